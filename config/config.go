// Package config parses the command line and environment into the typed
// options the rest of the binary consumes. It applies the documented
// defaults so a bare `chat-downloader <url>` works with no setup.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/lbmaian/chat-downloader/chat"
	"github.com/lbmaian/chat-downloader/logging"
	"github.com/lbmaian/chat-downloader/output"
)

// Options is the fully resolved configuration for one invocation.
type Options struct {
	URL string

	// StartTime and EndTime are offsets in seconds; nil means unbounded.
	StartTime *int64
	EndTime   *int64

	MessageType string // messages, superchat or all
	ChatType    string // live or top

	Output      string // file path or postgres DSN
	Cookies     string
	SaveCookies string

	AbortConditions []string

	LogFiles       []string
	LogLevel       slog.Level
	LogBaseContext string

	// Newline replaces '\n' on file writes when set (already unescaped).
	Newline     string
	MetricsAddr string

	Version bool
}

// multiFlag collects a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

var newlineEscapes = strings.NewReplacer(`\r`, "\r", `\n`, "\n", `\t`, "\t", `\\`, `\`)

// Parse resolves flags, environment fallbacks, and the positional URL.
// args excludes the program name. Environment fallbacks: LOG_LEVEL,
// METRICS_ADDR, and DATABASE_URL (the latter only with OUTPUT_TO_DB=1 and
// no explicit -output).
func Parse(args []string) (*Options, error) {
	fs := flag.NewFlagSet("chat-downloader", flag.ContinueOnError)

	opts := &Options{}
	var (
		startText   string
		endText     string
		levelText   string
		newlineText string
		logFiles    multiFlag
		aborts      multiFlag
		hideOutput  bool
	)

	levelDefault := os.Getenv("LOG_LEVEL")
	if levelDefault == "" {
		levelDefault = "WARNING"
	}

	fs.StringVar(&startText, "start_time", "", "start time in seconds or hh:mm:ss")
	fs.StringVar(&startText, "from", "", "alias for -start_time")
	fs.StringVar(&endText, "end_time", "", "end time in seconds or hh:mm:ss")
	fs.StringVar(&endText, "to", "", "alias for -end_time")
	fs.StringVar(&opts.MessageType, "message_type", "messages", "messages, superchat or all (YouTube)")
	fs.StringVar(&opts.ChatType, "chat_type", "live", "live or top chat (YouTube)")
	fs.StringVar(&opts.Output, "output", "", "output file (.json, .csv, other = plain text) or postgres DSN")
	fs.StringVar(&opts.Output, "o", "", "alias for -output")
	fs.StringVar(&opts.Cookies, "cookies", "", "Netscape cookie file to load")
	fs.StringVar(&opts.Cookies, "c", "", "alias for -cookies")
	fs.StringVar(&opts.SaveCookies, "save_cookies", "", "cookie file to write back on exit")
	fs.Var(&aborts, "abort_condition", "abort condition group (repeatable)")
	fs.Var(&logFiles, "log_file", ":console:, :none:, or a log file path (repeatable)")
	fs.BoolVar(&hideOutput, "hide_output", false, "deprecated: defaults -log_file to :none:")
	fs.StringVar(&levelText, "log_level", levelDefault, "TRACE, DEBUG, INFO, WARNING, ERROR or CRITICAL")
	fs.StringVar(&opts.LogBaseContext, "log_base_context", "", "prefix inside the log bracket")
	fs.StringVar(&newlineText, "newline", "", `newline override for file writes, e.g. \r\n`)
	fs.StringVar(&opts.MetricsAddr, "metrics_addr", os.Getenv("METRICS_ADDR"), "serve /metrics and /healthz on this address")
	fs.BoolVar(&opts.Version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		// Already reported by the FlagSet.
		return nil, err
	}

	// Report validation failures the way the FlagSet reports parse failures,
	// so the caller never has to print twice.
	fail := func(err error) (*Options, error) {
		fmt.Fprintln(fs.Output(), err)
		return nil, err
	}

	if opts.Version {
		return opts, nil
	}

	if fs.NArg() != 1 {
		return fail(fmt.Errorf("expected exactly one url argument, got %d", fs.NArg()))
	}
	opts.URL = fs.Arg(0)

	if startText != "" {
		secs, err := chat.ParseOffset(startText)
		if err != nil {
			return fail(fmt.Errorf("invalid start time: %w", err))
		}
		opts.StartTime = &secs
	}
	if endText != "" {
		secs, err := chat.ParseOffset(endText)
		if err != nil {
			return fail(fmt.Errorf("invalid end time: %w", err))
		}
		opts.EndTime = &secs
	}

	switch opts.MessageType {
	case "messages", "superchat", "all":
	default:
		return fail(fmt.Errorf("invalid message type %q: want messages, superchat or all", opts.MessageType))
	}
	switch opts.ChatType {
	case "live", "top":
	default:
		return fail(fmt.Errorf("invalid chat type %q: want live or top", opts.ChatType))
	}

	level, err := logging.ParseLevel(strings.ToUpper(levelText))
	if err != nil {
		return fail(err)
	}
	opts.LogLevel = level

	opts.AbortConditions = aborts
	opts.LogFiles = logFiles
	if len(opts.LogFiles) == 0 {
		if hideOutput {
			opts.LogFiles = []string{output.NoneTarget}
		} else {
			opts.LogFiles = []string{output.ConsoleTarget}
		}
	}

	if newlineText != "" {
		opts.Newline = newlineEscapes.Replace(newlineText)
	}

	if opts.Output == "" && os.Getenv("OUTPUT_TO_DB") == "1" {
		opts.Output = os.Getenv("DATABASE_URL")
	}

	return opts, nil
}
