package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/psantueno/ovif-backend-sub000/internal/audit"
	"github.com/psantueno/ovif-backend-sub000/internal/db"
	"github.com/psantueno/ovif-backend-sub000/internal/domain"
	"github.com/psantueno/ovif-backend-sub000/internal/migrate"
	"github.com/psantueno/ovif-backend-sub000/internal/repo"
)

func TestAppendWithinTransaction(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	trail := audit.Trail{Now: func() time.Time { return time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC) }}
	ctx := context.Background()

	ext := domain.Extension{
		ID: "e1", Exercise: 2024, Month: 3, MunicipalityID: 7, AgreementID: 1, RuleID: 1,
		NewEndDate: "2024-04-20",
	}

	// rollback leaves no trace
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := trail.Append(ctx, tx, audit.Record{
		Extension: ext, PreviousEndDate: "2024-04-10", ActorID: "tester",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}
	entries, err := r.ListAuditEntries(ctx, repo.AuditFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rolled-back append must leave nothing, got %d", len(entries))
	}

	// committed append is visible with defaulted kind and pinned timestamp
	tx, err = conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	entry, err := trail.Append(ctx, tx, audit.Record{
		Extension: ext, PreviousEndDate: "2024-04-10", Reason: "pedido", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if entry.Kind != domain.AuditExtension {
		t.Fatalf("kind should default to EXTENSION, got %s", entry.Kind)
	}
	if entry.Timestamp != "2024-04-01T09:00:00Z" {
		t.Fatalf("unexpected timestamp %s", entry.Timestamp)
	}
	entries, err = r.ListAuditEntries(ctx, repo.AuditFilters{ExtensionID: "e1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].PreviousEndDate != "2024-04-10" || entries[0].Reason != "pedido" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}
