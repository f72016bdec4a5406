package history

import (
	"context"
	"database/sql"
	"fmt"

	"vhlr/pkg/utils"
)

// PostgresRepo persists history through database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// Append writes the record and its attempts in one transaction.
func (r *PostgresRepo) Append(ctx context.Context, rec Record) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if err := insertRecord(ctx, tx, rec); err != nil {
			return fmt.Errorf("insert probe record: %w", err)
		}
		for _, a := range rec.Attempts {
			if err := insertAttempt(ctx, tx, rec.ID, a); err != nil {
				return fmt.Errorf("insert probe attempt %d: %w", a.Index, err)
			}
		}
		return nil
	})
}

// List returns matching records ordered by creation time. Attempts are not loaded.
func (r *PostgresRepo) List(ctx context.Context, f Filter) ([]Record, error) {
	const q = `
SELECT id, destination, client_id, message_id, available, code, reason,
       attempt_count, started_at, finished_at, created_at
FROM probe_records
WHERE created_at >= $1 AND created_at < $2
  AND ($3 = '' OR destination = $3)
  AND ($4 = '' OR client_id = $4)
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, f.From, f.To, f.Destination, f.ClientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID,
			&rec.Destination,
			&rec.ClientID,
			&rec.MessageID,
			&rec.Available,
			&rec.Code,
			&rec.Reason,
			&rec.AttemptCount,
			&rec.StartedAt,
			&rec.FinishedAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func insertRecord(ctx context.Context, tx *sql.Tx, rec Record) error {
	const q = `
INSERT INTO probe_records (
  id, destination, client_id, message_id, available, code, reason,
  attempt_count, started_at, finished_at, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	_, err := tx.ExecContext(ctx, q,
		rec.ID,
		rec.Destination,
		rec.ClientID,
		rec.MessageID,
		rec.Available,
		rec.Code,
		rec.Reason,
		rec.AttemptCount,
		rec.StartedAt,
		rec.FinishedAt,
		rec.CreatedAt,
	)
	return err
}

func insertAttempt(ctx context.Context, tx *sql.Tx, recordID string, a Attempt) error {
	const q = `
INSERT INTO probe_attempts (
  record_id, idx, call_id, delay_ms, state, raw_state, code, reason,
  setup_time, connect_time, terminate_time
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	_, err := tx.ExecContext(ctx, q,
		recordID,
		a.Index,
		a.CallID,
		a.Delay.Milliseconds(),
		a.State,
		a.RawState,
		a.Code,
		a.Reason,
		a.SetupTime,
		a.ConnectTime,
		a.TerminateTime,
	)
	return err
}
