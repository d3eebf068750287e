package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder style and DDL for SQLLog.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const sqlTable = "audit_records"

// SQLLog keeps the chain in a relational table.
type SQLLog struct {
	mu      sync.Mutex
	db      *sql.DB
	dialect Dialect
	clock   func() time.Time
	logger  *slog.Logger
}

// OpenSQL opens dsn with the driver for dialect and runs migrations.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLLog, error) {
	driver := string(dialect)
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("audit: unsupported sql dialect %q", dialect)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", dialect, err)
	}
	l, err := NewSQLLog(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// NewSQLLog wraps an existing handle. The schema is created if absent.
func NewSQLLog(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLLog, error) {
	l := &SQLLog{
		db:      db,
		dialect: dialect,
		clock:   time.Now,
		logger:  slog.Default().With("component", "audit", "backend", string(dialect)),
	}
	if err := l.migrate(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// WithClock overrides the clock for testing.
func (l *SQLLog) WithClock(clock func() time.Time) *SQLLog {
	l.clock = clock
	return l
}

func (l *SQLLog) migrate(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + sqlTable + ` (
		sequence     BIGINT PRIMARY KEY,
		record_id    TEXT NOT NULL UNIQUE,
		recorded_at  TEXT NOT NULL,
		kind         TEXT NOT NULL,
		subject      TEXT NOT NULL,
		payload      TEXT NOT NULL,
		payload_hash TEXT NOT NULL,
		prev_hash    TEXT NOT NULL,
		record_hash  TEXT NOT NULL
	)`
	if _, err := l.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (l *SQLLog) rebind(q string) string {
	if l.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, c := range q {
		if c == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (l *SQLLog) last(ctx context.Context) (uint64, string, error) {
	var (
		seq  uint64
		hash string
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT sequence, record_hash FROM `+sqlTable+` ORDER BY sequence DESC LIMIT 1`,
	).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, Genesis, nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("audit: read head: %w", err)
	}
	return seq, hash, nil
}

func (l *SQLLog) Append(ctx context.Context, kind Kind, subject string, payload any) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq, prev, err := l.last(ctx)
	if err != nil {
		return Record{}, err
	}
	r, err := newRecord(seq+1, prev, l.clock(), kind, subject, payload)
	if err != nil {
		return Record{}, err
	}
	_, err = l.db.ExecContext(ctx, l.rebind(`INSERT INTO `+sqlTable+`
		(sequence, record_id, recorded_at, kind, subject, payload, payload_hash, prev_hash, record_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.Sequence, r.RecordID, r.Timestamp.Format(time.RFC3339Nano), string(r.Kind), r.Subject,
		string(r.Payload), r.PayloadHash, r.PrevHash, r.RecordHash,
	)
	if err != nil {
		return Record{}, fmt.Errorf("audit: insert record %d: %w", r.Sequence, err)
	}
	l.logger.DebugContext(ctx, "record appended", "record_id", r.RecordID, "kind", kind)
	return r, nil
}

func (l *SQLLog) Read(ctx context.Context, f Filter) ([]Record, error) {
	q := `SELECT sequence, record_id, recorded_at, kind, subject, payload, payload_hash, prev_hash, record_hash
		FROM ` + sqlTable
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Subject != "" {
		where = append(where, "subject = ?")
		args = append(args, f.Subject)
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY sequence ASC"

	rows, err := l.db.QueryContext(ctx, l.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var all []Record
	for rows.Next() {
		var (
			r       Record
			ts      string
			kind    string
			payload string
		)
		if err := rows.Scan(&r.Sequence, &r.RecordID, &ts, &kind, &r.Subject, &payload,
			&r.PayloadHash, &r.PrevHash, &r.RecordHash); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if r.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("audit: record %d timestamp: %w", r.Sequence, err)
		}
		r.Kind = Kind(kind)
		r.Payload = []byte(payload)
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}
	// Time bounds and limit are applied in Go so both dialects compare instants.
	return filterRecords(all, Filter{Since: f.Since, Until: f.Until, Limit: f.Limit}), nil
}

func (l *SQLLog) Head(ctx context.Context) (string, error) {
	_, h, err := l.last(ctx)
	return h, err
}

func (l *SQLLog) Close() error { return l.db.Close() }
