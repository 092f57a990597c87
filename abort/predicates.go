package abort

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lbmaian/chat-downloader/chat"
)

// parsePredicate builds the runtime predicate for name:arg. A nil, nil
// return marks a signal option, handled by the group parser.
func parsePredicate(name, arg string) (predicate, error) {
	switch name {
	case "changed_scheduled_start_time":
		return parseChangedStart(arg)
	case "min_time_until_scheduled_start_time":
		return parseMinTimeUntilStart(arg)
	case "file_exists":
		return &fileExists{path: arg}, nil
	}
	if strings.HasPrefix(name, "SIG") {
		return nil, nil
	}
	return nil, fmt.Errorf("unrecognized abort condition %q", name)
}

// changedStart fires when the scheduled start time, rendered through a Go
// time layout, differs from the original. Direction '+' restricts to
// postponements, '-' to move-ups.
type changedStart struct {
	direction byte // '+', '-', or 0
	layout    string
}

func parseChangedStart(arg string) (*changedStart, error) {
	p := &changedStart{layout: arg}
	if len(arg) > 0 && (arg[0] == '+' || arg[0] == '-') {
		p.direction = arg[0]
		p.layout = arg[1:]
	}
	// The layout has to survive a format/parse round trip, otherwise the
	// comparison below could never be meaningful.
	probe := time.Now().Format(p.layout)
	if _, err := time.Parse(p.layout, probe); err != nil {
		return nil, fmt.Errorf("invalid time layout %q in changed_scheduled_start_time: %w", p.layout, err)
	}
	return p, nil
}

func (p *changedStart) Name() string { return "changed_scheduled_start_time" }

func (p *changedStart) Eval(_ time.Time, st *State) (bool, string) {
	orig, ok := st.Int64(KeyOrigScheduledStart)
	if !ok {
		return false, ""
	}
	cur, ok := st.Int64(KeyScheduledStart)
	if !ok {
		return false, ""
	}
	verb := "changed"
	switch p.direction {
	case '+':
		if cur <= orig {
			return false, ""
		}
		verb = "increased"
	case '-':
		if cur >= orig {
			return false, ""
		}
		verb = "decreased"
	default:
		if cur == orig {
			return false, ""
		}
	}
	origText := time.Unix(orig, 0).Format(p.layout)
	curText := time.Unix(cur, 0).Format(p.layout)
	if origText == curText {
		return false, ""
	}
	return true, fmt.Sprintf("scheduled start time formatted as '%s' %s to %s (originally %s)",
		p.layout, verb, curText, origText)
}

// minTimeUntilStart fires while the scheduled start is still at least the
// configured hours:minutes away.
type minTimeUntilStart struct {
	arg       string
	threshold int64 // seconds
}

var minTimeArg = regexp.MustCompile(`^(\d+):(\d+)$`)

func parseMinTimeUntilStart(arg string) (*minTimeUntilStart, error) {
	m := minTimeArg.FindStringSubmatch(arg)
	if m == nil {
		return nil, fmt.Errorf("invalid min_time_until_scheduled_start_time argument %q (want hours:minutes)", arg)
	}
	hours, _ := strconv.ParseInt(m[1], 10, 64)
	minutes, _ := strconv.ParseInt(m[2], 10, 64)
	return &minTimeUntilStart{arg: arg, threshold: hours*3600 + minutes*60}, nil
}

func (p *minTimeUntilStart) Name() string { return "min_time_until_scheduled_start_time" }

func (p *minTimeUntilStart) Eval(now time.Time, st *State) (bool, string) {
	sched, ok := st.Int64(KeyScheduledStart)
	if !ok {
		return false, ""
	}
	until := sched - now.Unix()
	if until < p.threshold {
		return false, ""
	}
	return true, fmt.Sprintf("current time (%s) until scheduled start time (%s): %d secs >= %d secs",
		now.Format(chat.DatetimeFormat), time.Unix(sched, 0).Format(chat.DatetimeFormat),
		until, p.threshold)
}

// fileExists fires when the path names a regular file. Operators touch the
// file to stop a capture from outside.
type fileExists struct {
	path string
}

func (p *fileExists) Name() string { return "file_exists" }

func (p *fileExists) Eval(_ time.Time, _ *State) (bool, string) {
	info, err := os.Stat(p.path)
	if err != nil || !info.Mode().IsRegular() {
		return false, ""
	}
	return true, fmt.Sprintf("file '%s' exists with ctime %s and mtime %s",
		p.path, changeTime(info).Format(chat.DatetimeFormat), info.ModTime().Format(chat.DatetimeFormat))
}
