package hierarchy_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/psantueno/ovif-backend-sub000/internal/domain"
	"github.com/psantueno/ovif-backend-sub000/internal/hierarchy"
)

func amt(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestBuildFlattensPreOrder(t *testing.T) {
	items := []domain.BudgetItem{
		{Code: 100, ParentCode: 0, Description: "Personal", IsLeaf: false},
		{Code: 110, ParentCode: 100, Description: "Sueldos", IsLeaf: true},
		{Code: 120, ParentCode: 100, Description: "Cargas", IsLeaf: true},
		{Code: 200, ParentCode: 0, Description: "Bienes", IsLeaf: true},
	}
	amounts := []domain.SubmittedAmount{
		{ItemCode: 110, Amount: amt("1500.50")},
		{ItemCode: 200, Amount: amt("200")},
	}
	rows := hierarchy.Build(items, amounts)
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	wantCodes := []int64{100, 110, 120, 200}
	for i, w := range wantCodes {
		if rows[i].Code != w {
			t.Fatalf("row %d: expected code %d, got %d", i, w, rows[i].Code)
		}
	}
	if rows[0].Level != 0 || rows[1].Level != 1 {
		t.Fatalf("expected levels 0/1, got %d/%d", rows[0].Level, rows[1].Level)
	}
	if !rows[0].SectionHeader || rows[0].Amount != nil {
		t.Fatalf("non-leaf row must be a header with no amount")
	}
	// children display their parent's rubric
	if rows[1].Description != "Personal" || rows[2].Description != "Personal" {
		t.Fatalf("children should carry parent description, got %q/%q", rows[1].Description, rows[2].Description)
	}
	if rows[2].Amount != nil {
		t.Fatalf("unreported item must stay nil, not zero")
	}
}

func TestBuildSelfParentIsRootNotCycle(t *testing.T) {
	items := []domain.BudgetItem{
		{Code: 1, ParentCode: 1, Description: "a", IsLeaf: true},
		{Code: 2, ParentCode: 2, Description: "b", IsLeaf: true},
	}
	rows := hierarchy.Build(items, nil)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, r := range rows {
		if r.Level != 0 {
			t.Fatalf("self-parent items are roots, got level %d", r.Level)
		}
	}
}

func TestBuildDanglingParentBecomesRoot(t *testing.T) {
	items := []domain.BudgetItem{
		{Code: 10, ParentCode: 999, Description: "orphan", IsLeaf: true},
		{Code: 20, ParentCode: 0, Description: "root", IsLeaf: true},
	}
	rows := hierarchy.Build(items, nil)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	seen := map[int64]bool{}
	for _, r := range rows {
		if r.Level != 0 {
			t.Fatalf("dangling parent must surface as root, got level %d", r.Level)
		}
		seen[r.Code] = true
	}
	if !seen[10] || !seen[20] {
		t.Fatalf("every item must appear exactly once: %v", seen)
	}
}

func TestBuildEveryItemAppearsOnce(t *testing.T) {
	items := []domain.BudgetItem{
		{Code: 1, ParentCode: 0, IsLeaf: false},
		{Code: 2, ParentCode: 1, IsLeaf: false},
		{Code: 3, ParentCode: 2, IsLeaf: true},
		{Code: 4, ParentCode: 4, IsLeaf: true},
		{Code: 5, ParentCode: 77, IsLeaf: true},
	}
	rows := hierarchy.Build(items, nil)
	counts := map[int64]int{}
	for _, r := range rows {
		counts[r.Code]++
	}
	if len(rows) != len(items) {
		t.Fatalf("expected %d rows, got %d", len(items), len(rows))
	}
	for _, it := range items {
		if counts[it.Code] != 1 {
			t.Fatalf("code %d appeared %d times", it.Code, counts[it.Code])
		}
	}
}

func TestComputeTotalLeavesOnly(t *testing.T) {
	rows := []hierarchy.Row{
		{Code: 1, IsLeaf: true, Amount: amt("100")},
		{Code: 2, IsLeaf: false, Amount: amt("9999")},
		{Code: 3, IsLeaf: true},
		{Code: 4, IsLeaf: true, Amount: amt("0.25")},
	}
	got := hierarchy.ComputeTotal(rows)
	if !got.Equal(decimal.RequireFromString("100.25")) {
		t.Fatalf("expected 100.25, got %s", got)
	}
}

func TestComputeTotalEmpty(t *testing.T) {
	if got := hierarchy.ComputeTotal(nil); !got.IsZero() {
		t.Fatalf("expected zero, got %s", got)
	}
}
