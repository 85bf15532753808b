package render_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/psantueno/ovif-backend-sub000/internal/domain"
	"github.com/psantueno/ovif-backend-sub000/internal/hierarchy"
	"github.com/psantueno/ovif-backend-sub000/internal/render"
	"github.com/psantueno/ovif-backend-sub000/internal/report"
)

func sampleDocument() render.Document {
	amount := decimal.RequireFromString("1500.50")
	rows := []hierarchy.Row{
		{Code: 100, Description: "Personal", Level: 0, SectionHeader: true},
		{Code: 110, Description: "Personal", Level: 1, IsLeaf: true, Amount: &amount},
	}
	return render.Document{
		Exercise:         2024,
		Month:            3,
		MunicipalityName: "Rawson",
		AgreementName:    "Convenio Base",
		Module:           domain.ModuleExpenses,
		DocumentNumber:   "123456789012",
		Report: report.Report{
			Rows:  rows,
			Total: hierarchy.ComputeTotal(rows),
		},
	}
}

func TestRenderDeterministic(t *testing.T) {
	doc := sampleDocument()
	first, err := render.Table{}.Render(doc)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	second, err := render.Table{}.Render(doc)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("identical documents must render identical bytes")
	}
	out := string(first)
	if !strings.HasPrefix(out, "OVIF: cierre de módulo expenses\n") {
		t.Fatalf("unexpected header line:\n%s", out)
	}
	for _, want := range []string{"Rawson", "Convenio Base", "123456789012", "1500.50"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderRejectsEmptyDocumentNumber(t *testing.T) {
	doc := sampleDocument()
	doc.DocumentNumber = ""
	if _, err := (render.Table{}).Render(doc); err == nil {
		t.Fatalf("expected error for empty document number")
	}
}

func TestArtifactName(t *testing.T) {
	got := render.ArtifactName(2024, 3, "Comodoro Rivadavia", domain.ModuleExpenses, "123456789012")
	want := "2024-3-Comodoro-Rivadavia-expenses-123456789012.pdf"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
