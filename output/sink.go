package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/lbmaian/chat-downloader/chat"
	"github.com/lbmaian/chat-downloader/telemetry"
)

type sinkMode int

const (
	modeNone sinkMode = iota
	modeJSON
	modeCSV
	modeText
	modePG
)

// Config describes where captured records go.
type Config struct {
	// Target is the --output value: a .json/.csv path written on finalize, a
	// postgres DSN, any other path appended line by line, or empty for
	// buffer-and-stdout only.
	Target string
	// URL is the capture source, recorded with the run in the DSN sink.
	URL string
	// Console receives record lines and status prints; defaults to stdout.
	Console io.Writer
	// Newline overrides '\n' on file writes when set.
	Newline string
	Logger  *slog.Logger
}

// Controller owns the in-order record buffer and all writers. Appends and
// prints are safe from multiple goroutines; Finalize is idempotent.
type Controller struct {
	mu      sync.Mutex
	console io.Writer
	target  string
	newline string
	logger  *slog.Logger

	buffer   []chat.Record
	appended int // text lines written, tickers excluded

	mode      sinkMode
	path      string
	textFile  *os.File
	textW     io.Writer
	textWrote bool
	pg        *pgSink

	once     sync.Once
	finalErr error
}

func NewController(cfg Config) (*Controller, error) {
	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		console: console,
		target:  cfg.Target,
		newline: cfg.Newline,
		logger:  logger,
	}
	switch {
	case cfg.Target == "":
		c.mode = modeNone
	case strings.HasPrefix(cfg.Target, "postgres://") || strings.HasPrefix(cfg.Target, "postgresql://"):
		sink, err := newPGSink(cfg.Target, cfg.URL, logger)
		if err != nil {
			return nil, err
		}
		c.pg = sink
		c.mode = modePG
	default:
		switch strings.ToLower(filepath.Ext(cfg.Target)) {
		case ".json":
			c.mode = modeJSON
			c.path = cfg.Target
		case ".csv":
			c.mode = modeCSV
			c.path = cfg.Target
		default:
			// Plain text target: truncate up front, append per record.
			f, err := os.OpenFile(cfg.Target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open output file %s: %w", cfg.Target, err)
			}
			c.mode = modeText
			c.textFile = f
			c.textW = wrapNewline(f, cfg.Newline)
		}
	}
	return c, nil
}

// Append buffers one record and echoes it. Ticker records are buffered (and
// stored by the DSN sink) but never printed or appended to text output: the
// same superchat already arrived as a chat-class record.
func (c *Controller) Append(rec chat.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer = append(c.buffer, rec)
	telemetry.SetBufferedRecords(len(c.buffer))
	if c.pg != nil {
		c.pg.insert(rec)
	}
	if rec.IsTicker() {
		return
	}
	line := rec.Line()
	fmt.Fprintln(c.console, line)
	if c.textW != nil {
		c.writeTextLine(line)
		c.appended++
	}
}

// Println writes a status line to the console writer.
func (c *Controller) Println(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.console, line)
}

// Records returns a copy of the buffered records in capture order.
func (c *Controller) Records() []chat.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chat.Record, len(c.buffer))
	copy(out, c.buffer)
	return out
}

func (c *Controller) writeTextLine(line string) {
	if !c.textWrote {
		if _, err := io.WriteString(c.textW, bom); err != nil {
			c.logger.Warn("write output file", "err", err)
			return
		}
		c.textWrote = true
	}
	if _, err := io.WriteString(c.textW, line+"\n"); err != nil {
		c.logger.Warn("write output file", "err", err)
	}
}

// Finalize flushes the deferred sinks and reports the write. Safe to call
// from both the normal return path and signal teardown; only the first call
// does work.
func (c *Controller) Finalize() error {
	c.once.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		var n int
		var err error
		switch c.mode {
		case modeJSON:
			n = len(c.buffer)
			err = c.writeJSON()
		case modeCSV:
			n = len(c.buffer)
			err = c.writeCSV()
		case modeText:
			n = c.appended
			err = c.textFile.Close()
		case modePG:
			n = c.pg.count
			err = c.pg.close()
		default:
			return
		}
		if err != nil {
			c.finalErr = err
			return
		}
		if n > 0 {
			fmt.Fprintf(c.console, "Finished writing %d messages to %s\n", n, c.target)
		}
	})
	return c.finalErr
}

func (c *Controller) writeJSON() error {
	if len(c.buffer) == 0 {
		return nil
	}
	data, err := json.Marshal(c.buffer)
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	f, err := os.Create(c.path)
	if err != nil {
		return fmt.Errorf("create %s: %w", c.path, err)
	}
	w := wrapNewline(f, c.newline)
	if _, err := io.WriteString(w, bom); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", c.path, err)
	}
	if _, err := w.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", c.path, err)
	}
	return f.Close()
}

func (c *Controller) writeCSV() error {
	if len(c.buffer) == 0 {
		return nil
	}
	seen := map[string]bool{}
	for _, rec := range c.buffer {
		for k := range rec {
			seen[k] = true
		}
	}
	header := make([]string, 0, len(seen))
	for k := range seen {
		header = append(header, k)
	}
	sort.Strings(header)

	f, err := os.Create(c.path)
	if err != nil {
		return fmt.Errorf("create %s: %w", c.path, err)
	}
	w := wrapNewline(f, c.newline)
	if _, err := io.WriteString(w, bom); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", c.path, err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", c.path, err)
	}
	row := make([]string, len(header))
	for _, rec := range c.buffer {
		for i, k := range header {
			row[i] = fieldText(rec[k])
		}
		if err := cw.Write(row); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", c.path, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", c.path, err)
	}
	return f.Close()
}

// fieldText renders a record value for a CSV cell: scalars plainly, absent
// and nil values empty, anything structured as inline JSON.
func fieldText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
