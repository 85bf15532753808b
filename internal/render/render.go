// Package render turns assembled report rows into the closure artifact bytes.
package render

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/psantueno/ovif-backend-sub000/internal/domain"
	"github.com/psantueno/ovif-backend-sub000/internal/report"
)

// Renderer produces the artifact body for one closed module report.
type Renderer interface {
	Render(doc Document) ([]byte, error)
}

// Document carries everything a renderer needs for one artifact.
type Document struct {
	Exercise         int
	Month            int
	MunicipalityName string
	AgreementName    string
	Module           domain.Module
	DocumentNumber   string
	Report           report.Report
}

// Table renders a plain fixed-width table. Output is deterministic for a
// given document so re-renders of the same closure are byte-identical.
type Table struct{}

func (Table) Render(doc Document) ([]byte, error) {
	if doc.DocumentNumber == "" {
		return nil, fmt.Errorf("render: empty document number")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "OVIF: cierre de módulo %s\n", doc.Module)
	fmt.Fprintf(&b, "Municipio: %s\n", doc.MunicipalityName)
	fmt.Fprintf(&b, "Convenio: %s\n", doc.AgreementName)
	fmt.Fprintf(&b, "Período: %04d-%02d\n", doc.Exercise, doc.Month)
	fmt.Fprintf(&b, "Documento: %s\n\n", doc.DocumentNumber)

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Código", "Descripción", "Importe", "Cantidad"})
	for _, row := range doc.Report.Rows {
		desc := strings.Repeat("  ", row.Level) + row.Description
		amount := ""
		if row.Amount != nil {
			amount = row.Amount.StringFixed(2)
		}
		count := ""
		if row.Count != nil {
			count = fmt.Sprintf("%d", *row.Count)
		}
		t.AppendRow(table.Row{row.Code, desc, amount, count})
	}
	t.AppendFooter(table.Row{"", "Total", doc.Report.Total.StringFixed(2), ""})
	b.WriteString(t.Render())
	b.WriteString("\n")
	return []byte(b.String()), nil
}

// ArtifactName builds the canonical artifact file name for a closure.
func ArtifactName(exercise, month int, municipalityName string, module domain.Module, documentNumber string) string {
	return fmt.Sprintf("%d-%d-%s-%s-%s.pdf", exercise, month, slug(municipalityName), module, documentNumber)
}

// slug keeps letters and digits (accented municipality names included) and
// turns separators into hyphens so the name is filesystem-safe.
func slug(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-':
			return r
		case r == ' ', r == '_':
			return '-'
		default:
			return -1
		}
	}, name)
}
