package output

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/lbmaian/chat-downloader/chat"
	"github.com/lbmaian/chat-downloader/testutil"
)

func TestPostgresSinkRoundTrip(t *testing.T) {
	db, dsn := testutil.OpenTestDB(t)

	c, console := newTestController(t, Config{Target: dsn, URL: "https://www.youtube.com/watch?v=test12345ab"})
	c.Append(chat.Record{
		chat.KeyAuthor:      "ann",
		chat.KeyMessage:     "hi",
		chat.KeyTimestamp:   int64(1700000000000000),
		chat.KeyTimeSeconds: int64(5),
	})
	c.Append(chat.Record{
		chat.KeyAuthor:         "bob",
		chat.KeyAmount:         "$2.00",
		chat.KeyTickerDuration: int64(10),
	})
	runID := c.pg.runID

	if err := c.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	// Tickers stream to the database even though they are never echoed.
	if want := "Finished writing 2 messages to "; !strings.Contains(console.String(), want) {
		t.Errorf("console %q missing %q", console.String(), want)
	}

	ctx := context.Background()
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages WHERE run_id = $1`, runID).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 2 {
		t.Errorf("stored %d messages, want 2", count)
	}

	var author, raw string
	var rel sql.NullFloat64
	err := db.QueryRowContext(ctx,
		`SELECT author, raw, rel_timestamp FROM chat_messages WHERE run_id = $1 AND author = 'ann'`, runID).
		Scan(&author, &raw, &rel)
	if err != nil {
		t.Fatalf("query message: %v", err)
	}
	if author != "ann" {
		t.Errorf("author = %q, want %q", author, "ann")
	}
	if !strings.Contains(raw, `"message":"hi"`) {
		t.Errorf("raw %q missing message field", raw)
	}
	if !rel.Valid || rel.Float64 != 5 {
		t.Errorf("rel_timestamp = %v, want 5", rel)
	}

	var url string
	if err := db.QueryRowContext(ctx, `SELECT url FROM capture_runs WHERE id = $1`, runID).Scan(&url); err != nil {
		t.Fatalf("query run: %v", err)
	}
	if want := fmt.Sprintf("https://www.youtube.com/watch?v=%s", "test12345ab"); url != want {
		t.Errorf("run url = %q, want %q", url, want)
	}
}
