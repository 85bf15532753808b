// Package hierarchy assembles report rows from a self-referencing budget
// classification catalog. Items are classified once at load time into an
// explicit Root/Child form indexed by code, so malformed catalogs (self
// parents, dangling parents) can never produce a traversal cycle.
package hierarchy

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/psantueno/ovif-backend-sub000/internal/domain"
)

// Row is one flattened report line in pre-order traversal order.
type Row struct {
	Code          int64            `json:"code"`
	Description   string           `json:"description"`
	Level         int              `json:"level"`
	SectionHeader bool             `json:"section_header"`
	IsLeaf        bool             `json:"is_leaf"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Count         *int             `json:"count,omitempty"`
}

// node is the tagged classification of one catalog item.
type node struct {
	item     domain.BudgetItem
	isRoot   bool
	parent   int64
	children []int64
}

// Build classifies the catalog, overlays the submitted amounts and returns
// the flattened pre-order rows. A nil amount means not yet reported, which is
// distinct from a reported zero. Every input item appears in the output
// exactly once.
func Build(items []domain.BudgetItem, amounts []domain.SubmittedAmount) []Row {
	byCode := make(map[int64]domain.BudgetItem, len(items))
	for _, it := range items {
		byCode[it.Code] = it
	}

	nodes := make(map[int64]*node, len(items))
	var roots []int64
	for _, it := range items {
		n := &node{item: it}
		switch {
		case it.ParentCode == 0:
			n.isRoot = true
		case it.ParentCode == it.Code:
			// self reference marks a root, not a cycle
			n.isRoot = true
		default:
			if _, ok := byCode[it.ParentCode]; !ok {
				// dangling parent reference: treat as root rather than reject
				n.isRoot = true
			} else {
				n.parent = it.ParentCode
			}
		}
		nodes[it.Code] = n
		if n.isRoot {
			roots = append(roots, it.Code)
		}
	}
	for _, it := range items {
		n := nodes[it.Code]
		if !n.isRoot {
			nodes[n.parent].children = append(nodes[n.parent].children, it.Code)
		}
	}

	// deterministic order: roots by (parentCode, code), siblings by code
	sort.Slice(roots, func(i, j int) bool {
		a, b := nodes[roots[i]].item, nodes[roots[j]].item
		if a.ParentCode != b.ParentCode {
			return a.ParentCode < b.ParentCode
		}
		return a.Code < b.Code
	})
	for _, n := range nodes {
		sort.Slice(n.children, func(i, j int) bool { return n.children[i] < n.children[j] })
	}

	submitted := make(map[int64]domain.SubmittedAmount, len(amounts))
	for _, a := range amounts {
		submitted[a.ItemCode] = a
	}

	rows := make([]Row, 0, len(items))
	var walk func(code int64, level int, parentDescription string)
	walk = func(code int64, level int, parentDescription string) {
		n := nodes[code]
		description := n.item.Description
		if parentDescription != "" {
			// children display under their parent's rubric
			description = parentDescription
		}
		row := Row{
			Code:          n.item.Code,
			Description:   description,
			Level:         level,
			SectionHeader: !n.item.IsLeaf,
			IsLeaf:        n.item.IsLeaf,
		}
		if a, ok := submitted[code]; ok {
			row.Amount = a.Amount
			row.Count = a.Count
		}
		rows = append(rows, row)
		for _, child := range n.children {
			walk(child, level+1, n.item.Description)
		}
	}
	for _, root := range roots {
		walk(root, 0, "")
	}
	return rows
}

// ComputeTotal sums the reported amounts of leaf rows. Section headers and
// unreported rows are skipped, never an error.
func ComputeTotal(rows []Row) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		if !r.IsLeaf || r.Amount == nil {
			continue
		}
		total = total.Add(*r.Amount)
	}
	return total
}
