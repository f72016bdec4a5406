package history

import (
	"context"
	"os"
	"testing"
	"time"

	"vhlr/pkg/utils"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const testSchema = `
CREATE TABLE IF NOT EXISTS probe_records (
  id text PRIMARY KEY,
  destination text NOT NULL,
  client_id text NOT NULL DEFAULT '',
  message_id text NOT NULL DEFAULT '',
  available boolean NOT NULL,
  code integer NOT NULL,
  reason text NOT NULL,
  attempt_count integer NOT NULL,
  started_at timestamptz NOT NULL,
  finished_at timestamptz NOT NULL,
  created_at timestamptz NOT NULL
);
CREATE TABLE IF NOT EXISTS probe_attempts (
  record_id text NOT NULL REFERENCES probe_records(id),
  idx integer NOT NULL,
  call_id text NOT NULL,
  delay_ms bigint NOT NULL,
  state text NOT NULL,
  raw_state text NOT NULL,
  code integer NOT NULL,
  reason text NOT NULL,
  setup_time timestamptz,
  connect_time timestamptz,
  terminate_time timestamptz,
  PRIMARY KEY (record_id, idx)
);
`

// Runs only when VHLR_TEST_DATABASE_URL points at a disposable database.
func TestPostgresRepo_AppendAndList(t *testing.T) {
	dsn := os.Getenv("VHLR_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("VHLR_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := utils.OpenPostgres(ctx, "pgx", dsn, utils.PostgresPoolConfig{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, testSchema); err != nil {
		t.Fatalf("schema: %v", err)
	}

	repo := NewPostgresRepo(db)
	now := time.Now().UTC().Truncate(time.Millisecond)
	dst := "test-" + uuid.NewString()
	setup := now.Add(-time.Second)
	rec := Record{
		ID:           uuid.NewString(),
		Destination:  dst,
		Available:    false,
		Code:         486,
		Reason:       "USER_BUSY",
		AttemptCount: 1,
		Attempts:     []Attempt{{Index: 0, CallID: uuid.NewString(), State: "terminated", Code: 486, Reason: "USER_BUSY", SetupTime: &setup, TerminateTime: &now}},
		StartedAt:    setup,
		FinishedAt:   now,
		CreatedAt:    now,
	}
	if err := repo.Append(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	out, err := repo.List(ctx, Filter{From: now.Add(-time.Minute), To: now.Add(time.Minute), Destination: dst})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 || out[0].ID != rec.ID || out[0].Code != 486 || out[0].AttemptCount != 1 {
		t.Fatalf("unexpected records: %+v", out)
	}
}
