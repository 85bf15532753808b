package closure_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/psantueno/ovif-backend-sub000/internal/audit"
	"github.com/psantueno/ovif-backend-sub000/internal/closure"
	"github.com/psantueno/ovif-backend-sub000/internal/config"
	"github.com/psantueno/ovif-backend-sub000/internal/db"
	"github.com/psantueno/ovif-backend-sub000/internal/docnum"
	"github.com/psantueno/ovif-backend-sub000/internal/domain"
	"github.com/psantueno/ovif-backend-sub000/internal/migrate"
	"github.com/psantueno/ovif-backend-sub000/internal/render"
	"github.com/psantueno/ovif-backend-sub000/internal/repo"
	"github.com/psantueno/ovif-backend-sub000/internal/report"
)

type testEnv struct {
	Engine *closure.Engine
	Repo   repo.Repo
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	closuresDir, err := db.ClosuresDir(dir)
	if err != nil {
		t.Fatalf("closures dir: %v", err)
	}
	r := repo.Repo{DB: conn}
	now := func() time.Time { return time.Date(2024, 4, 21, 12, 0, 0, 0, time.UTC) }
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)
	eng := &closure.Engine{
		Repo:        r,
		Audit:       audit.Trail{Now: now},
		Reports:     report.Builder{Repo: r},
		Docs:        docnum.New(r.DocumentNumberExists),
		Renderer:    render.Table{},
		Config:      config.Default(),
		ClosuresDir: closuresDir,
		Log:         log,
		Now:         now,
	}
	return testEnv{Engine: eng, Repo: r, Ctx: context.Background()}
}

// seedBase creates municipalities 7 and 8, agreement 1 with budget rule 1,
// the 2024-03 period ending 2024-04-10, and a small expense/resource catalog.
func seedBase(t *testing.T, env testEnv) {
	t.Helper()
	ctx := env.Ctx
	for id, name := range map[int]string{7: "Rawson", 8: "Gaiman"} {
		if err := env.Repo.InsertMunicipality(ctx, domain.Municipality{ID: id, Name: name}); err != nil {
			t.Fatalf("seed municipality %d: %v", id, err)
		}
	}
	if err := env.Repo.InsertAgreement(ctx, domain.Agreement{ID: 1, Name: "Convenio Base"}); err != nil {
		t.Fatalf("seed agreement: %v", err)
	}
	if err := env.Repo.InsertRule(ctx, domain.Rule{ID: 1, AgreementID: 1, Category: "budget"}); err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	if err := env.Repo.InsertPeriod(ctx, domain.FiscalPeriod{
		Exercise: 2024, Month: 3, AgreementID: 1, RuleID: 1,
		StartDate: "2024-03-01", EndDate: "2024-04-10",
	}); err != nil {
		t.Fatalf("seed period: %v", err)
	}
	for _, module := range []domain.Module{domain.ModuleExpenses, domain.ModuleResources} {
		if err := env.Repo.InsertBudgetItem(env.Ctx, domain.BudgetItem{
			Code: 100, Module: module, ParentCode: 0, Description: "Total general", IsLeaf: false,
		}); err != nil {
			t.Fatalf("seed item: %v", err)
		}
		if err := env.Repo.InsertBudgetItem(env.Ctx, domain.BudgetItem{
			Code: 110, Module: module, ParentCode: 100, Description: "Partida", IsLeaf: true,
		}); err != nil {
			t.Fatalf("seed item: %v", err)
		}
	}
	d := decimal.RequireFromString("1000")
	if err := env.Repo.UpsertSubmittedAmount(ctx, domain.SubmittedAmount{
		Exercise: 2024, Month: 3, MunicipalityID: 7, ItemCode: 110,
		Module: domain.ModuleExpenses, Amount: &d,
	}); err != nil {
		t.Fatalf("seed amount: %v", err)
	}
}

func asOf(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestGrantExtensionAuditChain(t *testing.T) {
	env := newTestEnv(t)
	seedBase(t, env)

	req := closure.GrantRequest{
		Exercise: 2024, Month: 3, MunicipalityID: 7, AgreementID: 1, RuleID: 1,
		NewEndDate: "2024-04-20", Reason: "pedido municipal", ActorID: "tester",
	}
	first, err := env.Engine.GrantExtension(env.Ctx, req)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	req.NewEndDate = "2024-04-25"
	second, err := env.Engine.GrantExtension(env.Ctx, req)
	if err != nil {
		t.Fatalf("regrant: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("update must keep the extension id, got %s then %s", first.ID, second.ID)
	}

	entries, err := env.Repo.ListAuditEntries(env.Ctx, repo.AuditFilters{MunicipalityID: 7})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].PreviousEndDate != "2024-04-10" || entries[0].NewEndDate != "2024-04-20" {
		t.Fatalf("first entry chain wrong: %+v", entries[0])
	}
	if entries[1].PreviousEndDate != "2024-04-20" || entries[1].NewEndDate != "2024-04-25" {
		t.Fatalf("second entry chain wrong: %+v", entries[1])
	}
	if entries[0].Kind != domain.AuditExtension {
		t.Fatalf("default kind should be EXTENSION, got %s", entries[0].Kind)
	}
}

func TestGrantExtensionValidation(t *testing.T) {
	env := newTestEnv(t)
	seedBase(t, env)

	var vErr *closure.ValidationError
	_, err := env.Engine.GrantExtension(env.Ctx, closure.GrantRequest{
		Exercise: 2024, Month: 3, MunicipalityID: 7, AgreementID: 1, RuleID: 1,
		NewEndDate: "2024-04-01", ActorID: "tester",
	})
	if !errors.As(err, &vErr) {
		t.Fatalf("date before official end must fail validation, got %v", err)
	}
	_, err = env.Engine.GrantExtension(env.Ctx, closure.GrantRequest{
		Exercise: 2024, Month: 12, MunicipalityID: 7, AgreementID: 1, RuleID: 1,
		NewEndDate: "2025-01-20", ActorID: "tester",
	})
	if !errors.Is(err, closure.ErrNotFound) {
		t.Fatalf("missing period must be NotFound, got %v", err)
	}
	_, err = env.Engine.GrantExtension(env.Ctx, closure.GrantRequest{
		Exercise: 2024, Month: 3, MunicipalityID: 99, AgreementID: 1, RuleID: 1,
		NewEndDate: "2024-04-20", ActorID: "tester",
	})
	if !errors.Is(err, closure.ErrNotFound) {
		t.Fatalf("missing municipality must be NotFound, got %v", err)
	}
}

func TestBatchClosesExtendedMunicipalityProrroga(t *testing.T) {
	env := newTestEnv(t)
	seedBase(t, env)
	if _, err := env.Engine.GrantExtension(env.Ctx, closure.GrantRequest{
		Exercise: 2024, Month: 3, MunicipalityID: 7, AgreementID: 1, RuleID: 1,
		NewEndDate: "2024-04-20", ActorID: "tester",
	}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	sum, err := env.Engine.RunBatch(env.Ctx, asOf("2024-04-21"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// budget covers 2 modules: municipality 8 closes REGULAR, municipality 7
	// closes PRORROGA via its elapsed extension.
	if sum.Failed != 0 {
		t.Fatalf("no failures expected, got %d", sum.Failed)
	}
	if sum.Closed != 4 {
		t.Fatalf("expected 4 closures (2 munis x 2 modules), got %d", sum.Closed)
	}

	for _, c := range sum.Records {
		switch c.MunicipalityID {
		case 7:
			if c.Kind != domain.ClosureProrroga {
				t.Fatalf("extended municipality must close PRORROGA, got %s", c.Kind)
			}
		case 8:
			if c.Kind != domain.ClosureRegular {
				t.Fatalf("unextended municipality must close REGULAR, got %s", c.Kind)
			}
		default:
			t.Fatalf("unexpected municipality %d", c.MunicipalityID)
		}
		if len(c.DocumentNumber) != 12 {
			t.Fatalf("document number %q not 12 digits", c.DocumentNumber)
		}
		if _, err := os.Stat(c.ReportPath); err != nil {
			t.Fatalf("artifact missing: %v", err)
		}
	}
}

func TestBatchSkipsUnelapsedExtension(t *testing.T) {
	env := newTestEnv(t)
	seedBase(t, env)
	if _, err := env.Engine.GrantExtension(env.Ctx, closure.GrantRequest{
		Exercise: 2024, Month: 3, MunicipalityID: 7, AgreementID: 1, RuleID: 1,
		NewEndDate: "2024-04-20", ActorID: "tester",
	}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	// on the extension's own end date the deadline has not elapsed
	sum, err := env.Engine.RunBatch(env.Ctx, asOf("2024-04-15"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, c := range sum.Records {
		if c.MunicipalityID == 7 {
			t.Fatalf("municipality with open extension must not close: %+v", c)
		}
	}
	if sum.Closed != 2 {
		t.Fatalf("expected municipality 8's 2 modules closed, got %d", sum.Closed)
	}
}

func TestBatchIdempotentRerun(t *testing.T) {
	env := newTestEnv(t)
	seedBase(t, env)

	first, err := env.Engine.RunBatch(env.Ctx, asOf("2024-04-21"))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Closed != 4 {
		t.Fatalf("expected 4 closures, got %d", first.Closed)
	}
	second, err := env.Engine.RunBatch(env.Ctx, asOf("2024-04-21"))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Closed != 0 || second.Failed != 0 {
		t.Fatalf("rerun must be a no-op, got %+v", second)
	}
	all, err := env.Repo.ListClosures(env.Ctx, repo.ClosureFilters{Exercise: 2024, Month: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected exactly 4 records, got %d", len(all))
	}
}

type failingRenderer struct {
	failMunicipality string
}

func (f failingRenderer) Render(doc render.Document) ([]byte, error) {
	if doc.MunicipalityName == f.failMunicipality {
		return nil, fmt.Errorf("printer on fire")
	}
	return render.Table{}.Render(doc)
}

func TestBatchIsolatesItemFailures(t *testing.T) {
	env := newTestEnv(t)
	seedBase(t, env)
	env.Engine.Renderer = failingRenderer{failMunicipality: "Rawson"}

	sum, err := env.Engine.RunBatch(env.Ctx, asOf("2024-04-21"))
	if err != nil {
		t.Fatalf("run must not abort on item failure: %v", err)
	}
	if sum.Failed != 2 {
		t.Fatalf("expected 2 failures for Rawson's modules, got %d", sum.Failed)
	}
	if sum.Closed != 2 {
		t.Fatalf("Gaiman's modules must still close, got %d", sum.Closed)
	}

	entries, err := env.Repo.LatestJobLog(env.Ctx, "closure.run", 20)
	if err != nil {
		t.Fatalf("job log: %v", err)
	}
	var itemErrors, summaries int
	for _, e := range entries {
		if e.Status == domain.JobError && e.MunicipalityID != nil {
			itemErrors++
		}
		if e.MunicipalityID == nil && e.Status == domain.JobOK {
			summaries++
		}
	}
	if itemErrors != 2 {
		t.Fatalf("expected 2 ERROR item entries, got %d", itemErrors)
	}
	if summaries != 1 {
		t.Fatalf("expected one OK summary entry, got %d", summaries)
	}
}

type moduleFailingRenderer struct {
	failModule domain.Module
}

func (f moduleFailingRenderer) Render(doc render.Document) ([]byte, error) {
	if doc.Module == f.failModule {
		return nil, fmt.Errorf("printer on fire")
	}
	return render.Table{}.Render(doc)
}

func TestBatchRetriesPartiallyFailedExtension(t *testing.T) {
	env := newTestEnv(t)
	seedBase(t, env)
	if _, err := env.Engine.GrantExtension(env.Ctx, closure.GrantRequest{
		Exercise: 2024, Month: 3, MunicipalityID: 7, AgreementID: 1, RuleID: 1,
		NewEndDate: "2024-04-20", ActorID: "tester",
	}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	env.Engine.Renderer = moduleFailingRenderer{failModule: domain.ModuleResources}

	first, err := env.Engine.RunBatch(env.Ctx, asOf("2024-04-21"))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Closed != 2 || first.Failed != 2 {
		t.Fatalf("expected expenses closed and resources failed for both munis, got %+v", first)
	}

	// With the renderer healthy again the next run must pick the extension
	// back up and close the module that failed, not write it off because a
	// sibling module already closed.
	env.Engine.Renderer = render.Table{}
	second, err := env.Engine.RunBatch(env.Ctx, asOf("2024-04-21"))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Closed != 2 || second.Failed != 0 {
		t.Fatalf("expected the 2 failed modules to close on rerun, got %+v", second)
	}

	recs, err := env.Repo.ListClosures(env.Ctx, repo.ClosureFilters{
		Exercise: 2024, Month: 3, MunicipalityID: 7, Module: domain.ModuleResources,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 || recs[0].Kind != domain.ClosureProrroga {
		t.Fatalf("extension's resources module must close PRORROGA on rerun, got %+v", recs)
	}
}

// Repeated regrants under a clock pinned to one instant share a timestamp;
// listing must still come back in write order.
func TestAuditEntriesListInWriteOrder(t *testing.T) {
	env := newTestEnv(t)
	seedBase(t, env)

	dates := []string{"2024-04-20", "2024-04-22", "2024-04-24", "2024-04-26", "2024-04-28", "2024-04-30"}
	for _, d := range dates {
		if _, err := env.Engine.GrantExtension(env.Ctx, closure.GrantRequest{
			Exercise: 2024, Month: 3, MunicipalityID: 7, AgreementID: 1, RuleID: 1,
			NewEndDate: d, ActorID: "tester",
		}); err != nil {
			t.Fatalf("grant %s: %v", d, err)
		}
	}

	entries, err := env.Repo.ListAuditEntries(env.Ctx, repo.AuditFilters{MunicipalityID: 7})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != len(dates) {
		t.Fatalf("expected %d entries, got %d", len(dates), len(entries))
	}
	prev := "2024-04-10"
	for i, e := range entries {
		if e.PreviousEndDate != prev || e.NewEndDate != dates[i] {
			t.Fatalf("entry %d out of write order: %+v", i, e)
		}
		prev = e.NewEndDate
	}
}

func TestManualCloseBeforeDeadline(t *testing.T) {
	env := newTestEnv(t)
	seedBase(t, env)
	env.Engine.Now = func() time.Time { return time.Date(2024, 4, 5, 10, 0, 0, 0, time.UTC) }

	closed, err := env.Engine.ManualClose(env.Ctx, closure.ManualCloseRequest{
		Exercise: 2024, Month: 3, MunicipalityID: 7, AgreementID: 1, RuleID: 1,
		Note: "cierre anticipado",
	})
	if err != nil {
		t.Fatalf("manual close: %v", err)
	}
	if len(closed) != 2 {
		t.Fatalf("expected both budget modules closed, got %d", len(closed))
	}
	for _, c := range closed {
		if c.Kind != domain.ClosureManual {
			t.Fatalf("expected MANUAL kind, got %s", c.Kind)
		}
		if c.Note != "cierre anticipado" {
			t.Fatalf("note not stored: %+v", c)
		}
	}
	// closing again conflicts
	if _, err := env.Engine.ManualClose(env.Ctx, closure.ManualCloseRequest{
		Exercise: 2024, Month: 3, MunicipalityID: 7, AgreementID: 1, RuleID: 1,
	}); !errors.Is(err, closure.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestManualCloseRejectsElapsedDeadline(t *testing.T) {
	env := newTestEnv(t)
	seedBase(t, env)
	// clock fixed at 2024-04-21, official end 2024-04-10

	_, err := env.Engine.ManualClose(env.Ctx, closure.ManualCloseRequest{
		Exercise: 2024, Month: 3, MunicipalityID: 7, AgreementID: 1, RuleID: 1,
	})
	var elapsed *closure.DeadlineElapsedError
	if !errors.As(err, &elapsed) {
		t.Fatalf("expected DeadlineElapsedError, got %v", err)
	}
	if got := elapsed.Deadline.End.Format("2006-01-02"); got != "2024-04-10" {
		t.Fatalf("error must carry the resolved deadline, got %s", got)
	}

	// an extension moves the resolved deadline and reopens manual closing
	if _, err := env.Engine.GrantExtension(env.Ctx, closure.GrantRequest{
		Exercise: 2024, Month: 3, MunicipalityID: 7, AgreementID: 1, RuleID: 1,
		NewEndDate: "2024-04-30", ActorID: "tester",
	}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := env.Engine.ManualClose(env.Ctx, closure.ManualCloseRequest{
		Exercise: 2024, Month: 3, MunicipalityID: 7, AgreementID: 1, RuleID: 1,
	}); err != nil {
		t.Fatalf("manual close under extension: %v", err)
	}
}

func TestComplianceStatus(t *testing.T) {
	env := newTestEnv(t)
	seedBase(t, env)
	months, days := 1, 10
	if err := env.Repo.InsertRule(env.Ctx, domain.Rule{
		ID: 2, AgreementID: 1, Category: "treasury",
		RectificationMonths: &months, RectificationDays: &days,
	}); err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	if err := env.Repo.InsertPeriod(env.Ctx, domain.FiscalPeriod{
		Exercise: 2024, Month: 1, AgreementID: 1, RuleID: 2,
		StartDate: "2024-01-01", EndDate: "2024-01-31",
	}); err != nil {
		t.Fatalf("seed period: %v", err)
	}

	status, err := env.Engine.Compliance(env.Ctx, closure.ComplianceRequest{
		Exercise: 2024, Month: 1, MunicipalityID: 7, AgreementID: 1, RuleID: 2,
		AsOf: asOf("2024-03-10"),
	})
	if err != nil {
		t.Fatalf("compliance: %v", err)
	}
	if !status.Expired {
		t.Fatalf("period should be expired on 2024-03-10")
	}
	if status.RectificationDeadline != "2024-03-10" || !status.RectificationOpen {
		t.Fatalf("rectification should be open through 2024-03-10: %+v", status)
	}

	status, err = env.Engine.Compliance(env.Ctx, closure.ComplianceRequest{
		Exercise: 2024, Month: 1, MunicipalityID: 7, AgreementID: 1, RuleID: 2,
		AsOf: asOf("2024-03-11"),
	})
	if err != nil {
		t.Fatalf("compliance: %v", err)
	}
	if status.RectificationOpen {
		t.Fatalf("rectification must close on 2024-03-11")
	}
}
