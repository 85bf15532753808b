package domain

import "github.com/shopspring/decimal"

// Module is a reporting category a municipality submits under.
type Module string

const (
	ModuleExpenses    Module = "expenses"
	ModuleResources   Module = "resources"
	ModuleCollections Module = "collections"
	ModulePersonnel   Module = "personnel"
)

// ClosureKind records how a closure came to exist.
type ClosureKind string

const (
	ClosureRegular   ClosureKind = "REGULAR"
	ClosureProrroga  ClosureKind = "PRORROGA"
	ClosureAutomatic ClosureKind = "AUTOMATIC"
	ClosureManual    ClosureKind = "MANUAL"
)

// AuditKind classifies an extension write.
type AuditKind string

const (
	AuditExtension     AuditKind = "EXTENSION"
	AuditRectification AuditKind = "RECTIFICATION"
	AuditAmplification AuditKind = "AMPLIFICATION"
)

// JobStatus is the outcome of one batch item or run.
type JobStatus string

const (
	JobOK    JobStatus = "OK"
	JobError JobStatus = "ERROR"
)

type Municipality struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Agreement struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Rule is an agreement's deadline policy for a class of periods. Category
// resolves the set of modules a closure covers. Rectification offsets are
// either both set and non-zero or both absent; a partially set rule is
// rejected at authoring time.
type Rule struct {
	ID                  int    `json:"id"`
	AgreementID         int    `json:"agreement_id"`
	Category            string `json:"category"`
	RectificationMonths *int   `json:"rectification_months,omitempty"`
	RectificationDays   *int   `json:"rectification_days,omitempty"`
}

// Rectifiable reports whether the rule supports corrective resubmission.
func (r Rule) Rectifiable() bool {
	return r.RectificationMonths != nil && r.RectificationDays != nil &&
		*r.RectificationMonths != 0 && *r.RectificationDays != 0
}

// FiscalPeriod is one (exercise, month) slot under an agreement/rule.
// Immutable once created; dates are calendar dates in RFC 3339 date form.
type FiscalPeriod struct {
	Exercise    int    `json:"exercise"`
	Month       int    `json:"month"`
	AgreementID int    `json:"agreement_id"`
	RuleID      int    `json:"rule_id"`
	StartDate   string `json:"start_date" format:"date"`
	EndDate     string `json:"end_date" format:"date"`
}

// Extension overrides a period's end date for a single municipality.
type Extension struct {
	ID             string `json:"id"`
	Exercise       int    `json:"exercise"`
	Month          int    `json:"month"`
	MunicipalityID int    `json:"municipality_id"`
	AgreementID    int    `json:"agreement_id"`
	RuleID         int    `json:"rule_id"`
	NewEndDate     string `json:"new_end_date" format:"date"`
}

// ExtensionAuditEntry is the append-only record of one extension write.
type ExtensionAuditEntry struct {
	ID              string    `json:"id"`
	ExtensionID     string    `json:"extension_id"`
	Exercise        int       `json:"exercise"`
	Month           int       `json:"month"`
	MunicipalityID  int       `json:"municipality_id"`
	AgreementID     int       `json:"agreement_id"`
	RuleID          int       `json:"rule_id"`
	PreviousEndDate string    `json:"previous_end_date" format:"date"`
	NewEndDate      string    `json:"new_end_date" format:"date"`
	Kind            AuditKind `json:"kind"`
	Reason          string    `json:"reason,omitempty"`
	ActorID         string    `json:"actor_id"`
	Timestamp       string    `json:"timestamp" format:"date-time"`
}

// BudgetItem is one entry of a self-referencing classification catalog,
// generic over expense and resource catalogs. ParentCode may be zero, equal to
// Code, or dangling; all three mark the item as a root.
type BudgetItem struct {
	Code        int64  `json:"code"`
	Module      Module `json:"module"`
	ParentCode  int64  `json:"parent_code"`
	Description string `json:"description"`
	IsLeaf      bool   `json:"is_leaf"`
}

// SubmittedAmount is a municipality's figure for one catalog item. A nil
// Amount means "not reported", which is distinct from a zero amount.
type SubmittedAmount struct {
	Exercise       int              `json:"exercise"`
	Month          int              `json:"month"`
	MunicipalityID int              `json:"municipality_id"`
	ItemCode       int64            `json:"item_code"`
	Module         Module           `json:"module"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	Count          *int             `json:"count,omitempty"`
}

// ClosureRecord is the immutable fact that a municipality's obligation for a
// (period, module) slot is complete. At most one exists per
// (exercise, month, municipality, agreement, rule, module); the table carries
// the uniqueness constraint that makes the batch's existence check safe.
type ClosureRecord struct {
	ID             string      `json:"id"`
	Exercise       int         `json:"exercise"`
	Month          int         `json:"month"`
	MunicipalityID int         `json:"municipality_id"`
	AgreementID    int         `json:"agreement_id"`
	RuleID         int         `json:"rule_id"`
	Module         Module      `json:"module"`
	Kind           ClosureKind `json:"kind"`
	DocumentNumber string      `json:"document_number"`
	ReportPath     string      `json:"report_path,omitempty"`
	Note           string      `json:"note,omitempty"`
	CreatedAt      string      `json:"created_at" format:"date-time"`
}

// JobLogEntry is one append-only line of the batch journal.
type JobLogEntry struct {
	ID             int64     `json:"id"`
	TaskName       string    `json:"task_name"`
	Exercise       *int      `json:"exercise,omitempty"`
	Month          *int      `json:"month,omitempty"`
	MunicipalityID *int      `json:"municipality_id,omitempty"`
	Status         JobStatus `json:"status"`
	Message        string    `json:"message"`
	Timestamp      string    `json:"timestamp" format:"date-time"`
}
