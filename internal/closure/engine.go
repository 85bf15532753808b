// Package closure orchestrates period closing: granting extensions, manual
// closes, and the batch that sweeps overdue periods into closure records.
package closure

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/psantueno/ovif-backend-sub000/internal/audit"
	"github.com/psantueno/ovif-backend-sub000/internal/calendar"
	"github.com/psantueno/ovif-backend-sub000/internal/config"
	"github.com/psantueno/ovif-backend-sub000/internal/docnum"
	"github.com/psantueno/ovif-backend-sub000/internal/domain"
	"github.com/psantueno/ovif-backend-sub000/internal/render"
	"github.com/psantueno/ovif-backend-sub000/internal/repo"
	"github.com/psantueno/ovif-backend-sub000/internal/report"
)

const (
	batchTask  = "closure.run"
	manualTask = "closure.manual"
)

// Engine wires the closing workflows together. Now is injectable so tests can
// pin the clock.
type Engine struct {
	Repo        repo.Repo
	Audit       audit.Trail
	Reports     report.Builder
	Docs        docnum.Allocator
	Renderer    render.Renderer
	Config      *config.Config
	ClosuresDir string
	Log         *logrus.Logger
	Now         func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) log() *logrus.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

// today is the single calendar date an entire operation compares against,
// taken in the configured zone.
func (e *Engine) today() time.Time {
	return calendar.Truncate(e.now().In(e.Config.Location()))
}

// GrantRequest creates or moves a municipality's extension for one period
// slot.
type GrantRequest struct {
	Exercise       int
	Month          int
	MunicipalityID int
	AgreementID    int
	RuleID         int
	NewEndDate     string
	Kind           domain.AuditKind
	Reason         string
	ActorID        string
}

// GrantExtension upserts the extension and appends its audit entry in one
// transaction. The audit's previous end date is the prior extension date when
// one existed, else the period's official end.
func (e *Engine) GrantExtension(ctx context.Context, req GrantRequest) (domain.Extension, error) {
	newEnd, err := calendar.ParseDate(req.NewEndDate)
	if err != nil {
		return domain.Extension{}, validationf("new end date: %v", err)
	}
	if req.ActorID == "" {
		return domain.Extension{}, validationf("actor is required")
	}
	period, err := e.Repo.GetPeriod(ctx, req.Exercise, req.Month, req.AgreementID, req.RuleID)
	if err != nil {
		return domain.Extension{}, fmt.Errorf("load period: %w", err)
	}
	if _, err := e.Repo.GetMunicipality(ctx, req.MunicipalityID); err != nil {
		return domain.Extension{}, fmt.Errorf("load municipality: %w", err)
	}
	officialEnd, err := calendar.ParseDate(period.EndDate)
	if err != nil {
		return domain.Extension{}, err
	}
	if !newEnd.After(officialEnd) {
		return domain.Extension{}, validationf("new end date %s does not extend past official end %s",
			req.NewEndDate, period.EndDate)
	}

	prev, err := e.Repo.GetExtension(ctx, req.Exercise, req.Month, req.MunicipalityID, req.AgreementID, req.RuleID)
	previousEnd := period.EndDate
	existing := err == nil
	if existing {
		previousEnd = prev.NewEndDate
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Extension{}, err
	}

	ext := domain.Extension{
		ID:             uuid.New().String(),
		Exercise:       req.Exercise,
		Month:          req.Month,
		MunicipalityID: req.MunicipalityID,
		AgreementID:    req.AgreementID,
		RuleID:         req.RuleID,
		NewEndDate:     req.NewEndDate,
	}
	if existing {
		ext.ID = prev.ID
	}

	tx, err := e.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Extension{}, err
	}
	defer tx.Rollback()

	if existing {
		err = e.Repo.UpdateExtensionDateTx(ctx, tx, ext.ID, ext.NewEndDate)
	} else {
		err = e.Repo.InsertExtensionTx(ctx, tx, ext)
	}
	if err != nil {
		return domain.Extension{}, err
	}
	if _, err := e.Audit.Append(ctx, tx, audit.Record{
		Extension:       ext,
		PreviousEndDate: previousEnd,
		Kind:            req.Kind,
		Reason:          req.Reason,
		ActorID:         req.ActorID,
	}); err != nil {
		return domain.Extension{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Extension{}, err
	}
	e.log().WithFields(logrus.Fields{
		"exercise":     ext.Exercise,
		"month":        ext.Month,
		"municipality": ext.MunicipalityID,
		"new_end_date": ext.NewEndDate,
	}).Info("extension granted")
	return ext, nil
}

// ManualCloseRequest closes one municipality's slot ahead of the batch.
type ManualCloseRequest struct {
	Exercise       int
	Month          int
	MunicipalityID int
	AgreementID    int
	RuleID         int
	Note           string
}

// ManualClose closes every not-yet-closed module of the slot while its
// resolved deadline is still open. An elapsed deadline is rejected with the
// date that was missed; those slots belong to the batch.
func (e *Engine) ManualClose(ctx context.Context, req ManualCloseRequest) ([]domain.ClosureRecord, error) {
	period, err := e.Repo.GetPeriod(ctx, req.Exercise, req.Month, req.AgreementID, req.RuleID)
	if err != nil {
		return nil, fmt.Errorf("load period: %w", err)
	}
	rule, err := e.Repo.GetRule(ctx, req.RuleID)
	if err != nil {
		return nil, fmt.Errorf("load rule: %w", err)
	}
	muni, err := e.Repo.GetMunicipality(ctx, req.MunicipalityID)
	if err != nil {
		return nil, fmt.Errorf("load municipality: %w", err)
	}
	agreement, err := e.Repo.GetAgreement(ctx, req.AgreementID)
	if err != nil {
		return nil, fmt.Errorf("load agreement: %w", err)
	}
	modules, ok := e.Config.ModulesFor(rule.Category)
	if !ok {
		return nil, validationf("rule category %q maps to no modules", rule.Category)
	}

	var extPtr *domain.Extension
	ext, err := e.Repo.GetExtension(ctx, req.Exercise, req.Month, req.MunicipalityID, req.AgreementID, req.RuleID)
	if err == nil {
		extPtr = &ext
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	deadline, err := calendar.ResolveDeadline(period, extPtr)
	if err != nil {
		return nil, err
	}
	if calendar.IsExpired(deadline.End, e.today()) {
		return nil, &DeadlineElapsedError{Deadline: deadline}
	}

	var closed []domain.ClosureRecord
	for _, module := range modules {
		rec, err := e.closeOne(ctx, workItem{
			Period:       period,
			Municipality: muni,
			Agreement:    agreement,
			Module:       module,
			Kind:         domain.ClosureManual,
			Note:         req.Note,
			Probe:        true,
		})
		if err != nil {
			return closed, err
		}
		if rec != nil {
			closed = append(closed, *rec)
		}
	}
	if len(closed) == 0 {
		return nil, ErrConflict
	}
	return closed, nil
}

// Summary reports one batch run.
type Summary struct {
	Today   time.Time
	Closed  int
	Skipped int
	Failed  int
	Records []domain.ClosureRecord
}

// workItem is one (period, municipality, module) closure attempt. Probe asks
// closeOne to check existence before doing any work; when false the insert's
// uniqueness constraint alone settles duplicates.
type workItem struct {
	Period       domain.FiscalPeriod
	Municipality domain.Municipality
	Agreement    domain.Agreement
	Module       domain.Module
	Kind         domain.ClosureKind
	Note         string
	Probe        bool
}

// RunBatch sweeps the window for overdue periods and elapsed extensions and
// records a closure per open (municipality, module) slot. Re-running with the
// same asOf is a no-op: every insert is guarded by an existence check and,
// underneath it, the table's uniqueness constraint. asOf zero means "now".
func (e *Engine) RunBatch(ctx context.Context, asOf time.Time) (Summary, error) {
	today := calendar.Truncate(asOf)
	if asOf.IsZero() {
		today = e.today()
	}
	sum := Summary{Today: today}

	items, err := e.collectWork(ctx, today)
	if err != nil {
		e.appendRunLog(ctx, domain.JobError, fmt.Sprintf("aborted: %v", err))
		return sum, err
	}

	results := e.closeAll(ctx, items)
	for _, r := range results {
		switch {
		case r.err != nil:
			sum.Failed++
		case r.rec == nil:
			sum.Skipped++
		default:
			sum.Closed++
			sum.Records = append(sum.Records, *r.rec)
		}
	}
	e.appendRunLog(ctx, domain.JobOK,
		fmt.Sprintf("as_of=%s closed=%d skipped=%d failed=%d",
			today.Format(calendar.DateLayout), sum.Closed, sum.Skipped, sum.Failed))
	return sum, nil
}

// collectWork gathers every candidate slot: overdue periods for
// municipalities without an extension, plus elapsed extensions.
func (e *Engine) collectWork(ctx context.Context, today time.Time) ([]workItem, error) {
	asOf := today.Format(calendar.DateLayout)
	windowStart := calendar.AddMonths(today, -e.Config.Batch.WindowMonths).Format(calendar.DateLayout)

	munis, err := e.Repo.ListMunicipalities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list municipalities: %w", err)
	}
	muniByID := make(map[int]domain.Municipality, len(munis))
	for _, m := range munis {
		muniByID[m.ID] = m
	}
	agreements := map[int]domain.Agreement{}
	agreementFor := func(id int) (domain.Agreement, error) {
		if a, ok := agreements[id]; ok {
			return a, nil
		}
		a, err := e.Repo.GetAgreement(ctx, id)
		if err != nil {
			return domain.Agreement{}, fmt.Errorf("load agreement %d: %w", id, err)
		}
		agreements[id] = a
		return a, nil
	}
	modulesFor := func(ruleID int) ([]domain.Module, error) {
		rule, err := e.Repo.GetRule(ctx, ruleID)
		if err != nil {
			return nil, fmt.Errorf("load rule %d: %w", ruleID, err)
		}
		mods, ok := e.Config.ModulesFor(rule.Category)
		if !ok {
			return nil, fmt.Errorf("rule %d: category %q maps to no modules", ruleID, rule.Category)
		}
		return mods, nil
	}

	var items []workItem

	due, err := e.Repo.DuePeriods(ctx, asOf, windowStart)
	if err != nil {
		return nil, fmt.Errorf("scan due periods: %w", err)
	}
	for _, period := range due {
		// Cheap pre-filter only, never the eligibility gate: a period with no
		// REGULAR closure yet skips the per-item existence probe and lets the
		// insert's uniqueness constraint settle any race. A partially swept
		// period keeps being picked up until every municipality is closed.
		swept, err := e.Repo.AnyRegularClosure(ctx, period.Exercise, period.Month, period.AgreementID, period.RuleID)
		if err != nil {
			return nil, fmt.Errorf("pre-filter period: %w", err)
		}
		mods, err := modulesFor(period.RuleID)
		if err != nil {
			return nil, err
		}
		agreement, err := agreementFor(period.AgreementID)
		if err != nil {
			return nil, err
		}
		// Municipalities holding an extension for this slot follow the
		// extension track below, whatever the extension's date.
		exts, err := e.Repo.ListExtensions(ctx, period.Exercise, period.Month)
		if err != nil {
			return nil, fmt.Errorf("list extensions: %w", err)
		}
		extended := map[int]bool{}
		for _, x := range exts {
			if x.AgreementID == period.AgreementID && x.RuleID == period.RuleID {
				extended[x.MunicipalityID] = true
			}
		}
		for _, muni := range munis {
			if extended[muni.ID] {
				continue
			}
			for _, module := range mods {
				items = append(items, workItem{
					Period:       period,
					Municipality: muni,
					Agreement:    agreement,
					Module:       module,
					Kind:         domain.ClosureRegular,
					Probe:        swept,
				})
			}
		}
	}

	dueExts, err := e.Repo.DueExtensions(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("scan due extensions: %w", err)
	}
	for _, ext := range dueExts {
		period, err := e.Repo.GetPeriod(ctx, ext.Exercise, ext.Month, ext.AgreementID, ext.RuleID)
		if err != nil {
			return nil, fmt.Errorf("load period for extension %s: %w", ext.ID, err)
		}
		mods, err := modulesFor(ext.RuleID)
		if err != nil {
			return nil, err
		}
		agreement, err := agreementFor(ext.AgreementID)
		if err != nil {
			return nil, err
		}
		muni, ok := muniByID[ext.MunicipalityID]
		if !ok {
			return nil, fmt.Errorf("extension %s references unknown municipality %d", ext.ID, ext.MunicipalityID)
		}
		for _, module := range mods {
			items = append(items, workItem{
				Period:       period,
				Municipality: muni,
				Agreement:    agreement,
				Module:       module,
				Kind:         domain.ClosureProrroga,
				Probe:        true,
			})
		}
	}
	return items, nil
}

type itemResult struct {
	item workItem
	rec  *domain.ClosureRecord
	err  error
}

// closeAll runs the items through a bounded worker pool. Work is partitioned
// by municipality so two workers never race on the same municipality's slots.
func (e *Engine) closeAll(ctx context.Context, items []workItem) []itemResult {
	groups := map[int][]workItem{}
	for _, it := range items {
		groups[it.Municipality.ID] = append(groups[it.Municipality.ID], it)
	}
	ids := make([]int, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	workers := e.Config.Batch.Workers
	if workers < 1 {
		workers = 1
	}
	feed := make(chan []workItem)
	var mu sync.Mutex
	var results []itemResult
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range feed {
				for _, it := range group {
					rec, err := e.closeOne(ctx, it)
					if err != nil {
						e.log().WithFields(logrus.Fields{
							"exercise":     it.Period.Exercise,
							"month":        it.Period.Month,
							"municipality": it.Municipality.ID,
							"module":       it.Module,
						}).WithError(err).Error("closure failed")
						e.appendItemLog(ctx, it, domain.JobError, err.Error())
					}
					mu.Lock()
					results = append(results, itemResult{item: it, rec: rec, err: err})
					mu.Unlock()
				}
			}
		}()
	}
	for _, id := range ids {
		feed <- groups[id]
	}
	close(feed)
	wg.Wait()
	return results
}

// closeOne records a single closure: build the report, allocate a document
// number, render and persist the artifact, then insert the record. A nil
// record with nil error means the slot was already closed. The artifact is
// removed when the insert fails so no orphan file survives.
func (e *Engine) closeOne(ctx context.Context, it workItem) (*domain.ClosureRecord, error) {
	if it.Probe {
		exists, err := e.Repo.ClosureExists(ctx, it.Period.Exercise, it.Period.Month,
			it.Municipality.ID, it.Period.AgreementID, it.Period.RuleID, it.Module)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, nil
		}
	}

	rep, err := e.Reports.Build(ctx, it.Period.Exercise, it.Period.Month, it.Municipality.ID, it.Module)
	if err != nil {
		return nil, fmt.Errorf("build report: %w", err)
	}
	number, err := e.Docs.Allocate(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate document number: %w", err)
	}
	body, err := e.Renderer.Render(render.Document{
		Exercise:         it.Period.Exercise,
		Month:            it.Period.Month,
		MunicipalityName: it.Municipality.Name,
		AgreementName:    it.Agreement.Name,
		Module:           it.Module,
		DocumentNumber:   number,
		Report:           rep,
	})
	if err != nil {
		return nil, &RenderError{Err: err}
	}
	name := render.ArtifactName(it.Period.Exercise, it.Period.Month, it.Municipality.Name, it.Module, number)
	path := filepath.Join(e.ClosuresDir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return nil, fmt.Errorf("write artifact: %w", err)
	}

	rec := domain.ClosureRecord{
		ID:             uuid.New().String(),
		Exercise:       it.Period.Exercise,
		Month:          it.Period.Month,
		MunicipalityID: it.Municipality.ID,
		AgreementID:    it.Period.AgreementID,
		RuleID:         it.Period.RuleID,
		Module:         it.Module,
		Kind:           it.Kind,
		DocumentNumber: number,
		ReportPath:     path,
		Note:           it.Note,
		CreatedAt:      e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertClosure(ctx, rec); err != nil {
		os.Remove(path)
		if errors.Is(err, repo.ErrConflict) {
			// Another run of the same sweep won the insert.
			return nil, nil
		}
		return nil, fmt.Errorf("insert closure: %w", err)
	}
	e.appendItemLog(ctx, it, domain.JobOK, fmt.Sprintf("closed %s doc=%s", it.Module, number))
	e.log().WithFields(logrus.Fields{
		"exercise":     rec.Exercise,
		"month":        rec.Month,
		"municipality": rec.MunicipalityID,
		"module":       rec.Module,
		"kind":         rec.Kind,
		"document":     rec.DocumentNumber,
	}).Info("closure recorded")
	return &rec, nil
}

func (e *Engine) appendItemLog(ctx context.Context, it workItem, status domain.JobStatus, msg string) {
	task := batchTask
	if it.Kind == domain.ClosureManual {
		task = manualTask
	}
	entry := domain.JobLogEntry{
		TaskName:       task,
		Exercise:       &it.Period.Exercise,
		Month:          &it.Period.Month,
		MunicipalityID: &it.Municipality.ID,
		Status:         status,
		Message:        msg,
		Timestamp:      e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.AppendJobLog(ctx, entry); err != nil {
		e.log().WithError(err).Error("append job log")
	}
}

func (e *Engine) appendRunLog(ctx context.Context, status domain.JobStatus, msg string) {
	entry := domain.JobLogEntry{
		TaskName:  batchTask,
		Status:    status,
		Message:   msg,
		Timestamp: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.AppendJobLog(ctx, entry); err != nil {
		e.log().WithError(err).Error("append job log")
	}
}
