package transcript

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/telebridge/pkg/types"
)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS calls (
    call_sid    TEXT         PRIMARY KEY,
    stream_sid  TEXT         NOT NULL DEFAULT '',
    mode        TEXT         NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS turns (
    id          BIGSERIAL    PRIMARY KEY,
    call_sid    TEXT         NOT NULL REFERENCES calls (call_sid) ON DELETE CASCADE,
    speaker     TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    raw_text    TEXT         NOT NULL DEFAULT '',
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_turns_call_sid
    ON turns (call_sid, timestamp);
`

// PostgresStore persists call transcripts in PostgreSQL. A row in calls is
// written on [PostgresStore.Begin] and every line becomes a row in turns.
//
// All operations are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Sink = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn, pings the server and runs [Migrate].
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the calls and turns tables. It is idempotent and safe to
// call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscripts); err != nil {
		return fmt.Errorf("transcript migrate: %w", err)
	}
	return nil
}

// Begin implements [Sink]. Beginning a call twice keeps the first row.
func (s *PostgresStore) Begin(ctx context.Context, call CallInfo) error {
	const q = `
		INSERT INTO calls (call_sid, stream_sid, mode, started_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (call_sid) DO NOTHING`

	if _, err := s.pool.Exec(ctx, q, call.CallSID, call.StreamSID, call.Mode, call.StartedAt); err != nil {
		return fmt.Errorf("transcript store: begin call: %w", err)
	}
	return nil
}

// Append implements [Sink].
func (s *PostgresStore) Append(ctx context.Context, entry types.TranscriptEntry) error {
	const q = `
		INSERT INTO turns (call_sid, speaker, text, raw_text, timestamp)
		VALUES ($1, $2, $3, $4, $5)`

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if _, err := s.pool.Exec(ctx, q, entry.CallSID, entry.Speaker, entry.Text, entry.RawText, ts); err != nil {
		return fmt.Errorf("transcript store: append: %w", err)
	}
	return nil
}

// End implements [Sink]. It stamps the call's end time.
func (s *PostgresStore) End(ctx context.Context, callSID string) error {
	const q = `UPDATE calls SET ended_at = now() WHERE call_sid = $1`

	tag, err := s.pool.Exec(ctx, q, callSID)
	if err != nil {
		return fmt.Errorf("transcript store: end call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownCall, callSID)
	}
	return nil
}

// Turns returns the transcript of callSID in chronological order.
func (s *PostgresStore) Turns(ctx context.Context, callSID string) ([]types.TranscriptEntry, error) {
	const q = `
		SELECT call_sid, speaker, text, raw_text, timestamp
		FROM   turns
		WHERE  call_sid = $1
		ORDER  BY timestamp, id`

	rows, err := s.pool.Query(ctx, q, callSID)
	if err != nil {
		return nil, fmt.Errorf("transcript store: turns: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.TranscriptEntry, error) {
		var e types.TranscriptEntry
		err := row.Scan(&e.CallSID, &e.Speaker, &e.Text, &e.RawText, &e.Timestamp)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan turns: %w", err)
	}
	return entries, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
