package migrate

import (
	"testing"

	"phaseline/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := Migrate(conn); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var applied int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		t.Fatalf("read journal: %v", err)
	}
	steps, err := embeddedSteps()
	if err != nil {
		t.Fatalf("embedded steps: %v", err)
	}
	if applied != len(steps) {
		t.Fatalf("journal rows = %d, embedded steps = %d", applied, len(steps))
	}

	// the domain tables exist after migration
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM requests`).Scan(&n); err != nil {
		t.Fatalf("requests table missing: %v", err)
	}
}
