package journal

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	xerrors "OpenMCP-Wallet/internal/errors"
	"OpenMCP-Wallet/internal/relay"
)

func openSQLite(t *testing.T, path string) *Journal {
	t.Helper()
	j, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: path})
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	return j
}

func TestJournalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "journal.db")
	j := openSQLite(t, path)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []relay.Record{
		{ID: "1", Adapter: "phantom", Event: "connecting", OccurredAt: base},
		{ID: "2", Adapter: "phantom", Event: "connected", SessionID: "s-1", Reconnected: true, OccurredAt: base.Add(time.Second)},
		{ID: "3", Adapter: "phantom", Event: "errored", ErrorCode: "WALLET_WINDOW_CLOSED", Error: "closed", OccurredAt: base.Add(2 * time.Second)},
		{ID: "4", Adapter: "phantom", Event: "disconnected", SessionID: "s-1", AgentInitiated: true, OccurredAt: base.Add(3 * time.Second)},
	}
	for _, rec := range records {
		if err := j.Deliver(ctx, rec); err != nil {
			t.Fatalf("deliver %s: %v", rec.ID, err)
		}
	}
	if err := j.Deliver(ctx, records[0]); err != nil {
		t.Fatalf("duplicate delivery should be ignored: %v", err)
	}

	recent, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "4" || recent[1].ID != "3" {
		t.Fatalf("unexpected recent records %+v", recent)
	}
	if recent[1].ErrorCode != "WALLET_WINDOW_CLOSED" || recent[1].Error != "closed" {
		t.Fatalf("error fields not persisted: %+v", recent[1])
	}

	session, err := j.BySession(ctx, "s-1")
	if err != nil {
		t.Fatalf("by session: %v", err)
	}
	if len(session) != 2 || session[0].Event != "connected" || !session[0].Reconnected || !session[1].AgentInitiated {
		t.Fatalf("unexpected session records %+v", session)
	}
	if !session[0].OccurredAt.Equal(base.Add(time.Second)) {
		t.Fatalf("unexpected timestamp %v", session[0].OccurredAt)
	}

	if _, err := j.BySession(ctx, " "); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if j.Name() != DriverSQLite {
		t.Fatalf("unexpected sink name %s", j.Name())
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopening must not re-apply migrations.
	reopened := openSQLite(t, path)
	defer reopened.Close()
	all, err := reopened.Recent(ctx, 0)
	if err != nil || len(all) != len(records) {
		t.Fatalf("unexpected records after reopen: %d (%v)", len(all), err)
	}
}

func TestOpenValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, Config{Driver: DriverMySQL}); xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure for empty DSN, got %v", err)
	}
	if _, err := Open(ctx, Config{Driver: "postgres", DSN: "x"}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument for unknown driver, got %v", err)
	}
}

func TestLoadMigrationFilesOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"002_second.sql": {Data: []byte("CREATE TABLE b (id INT);")},
		"001_first.sql":  {Data: []byte("CREATE TABLE a (id INT); CREATE INDEX ia ON a (id);")},
		"README.md":      {Data: []byte("ignored")},
		"003_empty.sql":  {Data: []byte(" ; ")},
	}
	files, err := loadMigrationFiles(fsys)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 2 || files[0].version != "001" || files[1].version != "002" {
		t.Fatalf("unexpected migrations %+v", files)
	}
	if len(files[0].statements) != 2 {
		t.Fatalf("unexpected statements %v", files[0].statements)
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil || len(files) == 0 {
		t.Fatalf("expected embedded migrations, got %d (%v)", len(files), err)
	}
}

var _ relay.Sink = (*Journal)(nil)
