package output

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	json "github.com/goccy/go-json"

	"github.com/lbmaian/chat-downloader/chat"
)

var pgMigrations = []string{
	`CREATE TABLE IF NOT EXISTS capture_runs (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id SERIAL PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES capture_runs(id),
		author TEXT,
		author_id TEXT,
		author_type TEXT,
		message TEXT,
		amount TEXT,
		badges TEXT,
		abs_timestamp TIMESTAMPTZ,
		rel_timestamp DOUBLE PRECISION,
		raw JSONB NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_run_abs ON chat_messages(run_id, abs_timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_run_rel ON chat_messages(run_id, rel_timestamp)`,
}

// pgSink streams records into Postgres, one capture run per controller.
type pgSink struct {
	db     *sql.DB
	runID  string
	count  int
	logger *slog.Logger
}

func newPGSink(dsn, captureURL string, logger *slog.Logger) (*pgSink, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	for _, stmt := range pgMigrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}
	runID := uuid.NewString()
	if _, err := db.ExecContext(ctx, `INSERT INTO capture_runs (id, url) VALUES ($1, $2)`, runID, captureURL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create capture run: %w", err)
	}
	return &pgSink{db: db, runID: runID, logger: logger}, nil
}

// insert stores one record. Failures are logged and skipped so a flaky
// database never kills a live capture.
func (p *pgSink) insert(rec chat.Record) {
	raw, err := json.Marshal(rec)
	if err != nil {
		p.logger.Warn("encode chat message", "err", err)
		return
	}
	var abs any
	if us, ok := rec[chat.KeyTimestamp].(int64); ok {
		abs = time.UnixMicro(us)
	}
	var rel any
	switch secs := rec[chat.KeyTimeSeconds].(type) {
	case int64:
		rel = float64(secs)
	case float64:
		rel = secs
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO chat_messages (run_id, author, author_id, author_type, message, amount, badges, abs_timestamp, rel_timestamp, raw)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.runID,
		textColumn(rec, chat.KeyAuthor),
		textColumn(rec, chat.KeyAuthorID),
		textColumn(rec, chat.KeyAuthorType),
		textColumn(rec, chat.KeyMessage),
		textColumn(rec, chat.KeyAmount),
		textColumn(rec, chat.KeyBadges),
		abs, rel, string(raw))
	if err != nil {
		p.logger.Warn("insert chat message", "err", err)
		return
	}
	p.count++
}

func (p *pgSink) close() error {
	return p.db.Close()
}

// textColumn renders a record value for a nullable TEXT column.
func textColumn(rec chat.Record, key string) any {
	v, ok := rec[key]
	if !ok || v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
