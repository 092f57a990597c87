package abort

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSplitGroup(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{"single", "file_exists:/tmp/stop", []string{"file_exists:/tmp/stop"}, false},
		{"two predicates", "a:1 & b:2", []string{"a:1", "b:2"}, false},
		{"escaped ampersand", `file_exists:/tmp/a\&b`, []string{"file_exists:/tmp/a&b"}, false},
		{"escaped backslash", `file_exists:C\\stop`, []string{`file_exists:C\stop`}, false},
		{"unknown escape passes through", `file_exists:\d`, []string{`file_exists:\d`}, false},
		{"empty predicate", "a:1 && b:2", nil, true},
		{"trailing empty", "a:1 &", nil, true},
		{"trailing backslash", `a:1\`, nil, true},
		{"empty group", "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := splitGroup(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("splitGroup(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("tokens = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("tokens = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name       string
		conditions []string
		wantSubstr string
	}{
		{"missing colon", []string{"file_exists"}, "want name:value"},
		{"unknown name", []string{"wait_for_it:5"}, "unrecognized abort condition"},
		{"duplicate in group", []string{"file_exists:/a & file_exists:/b"}, "multiple file_exists conditions"},
		{"bad min time arg", []string{"min_time_until_scheduled_start_time:90m"}, "want hours:minutes"},
		{"signal not alone", []string{"SIGINT:disable & file_exists:/a"}, "only condition in its group"},
		{"signal bad mode", []string{"SIGINT:sometimes"}, "invalid signal policy"},
		{"signal unknown name", []string{"SIGWHAT:disable"}, "unrecognized signal name"},
	}

	policy := func(name, mode string) error {
		if name != "SIGINT" && name != "SIGTERM" {
			return fmt.Errorf("no such signal")
		}
		return nil
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.conditions, ParseConfig{SignalPolicy: policy})
			if err == nil {
				t.Fatalf("Parse(%v) succeeded, want error", tt.conditions)
			}
			if !strings.Contains(err.Error(), tt.wantSubstr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantSubstr)
			}
		})
	}
}

func TestParseSignalOnlyGroupIsInert(t *testing.T) {
	var applied []string
	policy := func(name, mode string) error {
		applied = append(applied, name+"="+mode)
		return nil
	}
	c, err := Parse([]string{"SIGINT:disable", "SIGTERM:enable"}, ParseConfig{SignalPolicy: policy})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !c.Empty() {
		t.Error("signal-only conditions produced runtime groups")
	}
	if len(applied) != 2 || applied[0] != "SIGINT=disable" || applied[1] != "SIGTERM=enable" {
		t.Errorf("policy calls = %v", applied)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check on empty checker = %v", err)
	}
}

func TestFileExistsPredicate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stop")

	c, err := Parse([]string{"file_exists:" + path}, ParseConfig{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("Check before file exists = %v", err)
	}

	// A directory at the path must not fire.
	if err := os.Mkdir(path+".dir", 0o755); err != nil {
		t.Fatal(err)
	}
	cDir, err := Parse([]string{"file_exists:" + path + ".dir"}, ParseConfig{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cDir.Check(context.Background()); err != nil {
		t.Errorf("Check on directory fired: %v", err)
	}

	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	err = c.Check(context.Background())
	var ae *AbortError
	if !errors.As(err, &ae) {
		t.Fatalf("Check = %v, want *AbortError", err)
	}
	if !strings.Contains(ae.Message, "file '"+path+"' exists with ctime ") ||
		!strings.Contains(ae.Message, " and mtime ") {
		t.Errorf("message = %q", ae.Message)
	}
}

func TestMinTimeUntilStartPredicate(t *testing.T) {
	c, err := Parse([]string{"min_time_until_scheduled_start_time:01:00"}, ParseConfig{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	now := time.Date(2020, 9, 13, 5, 0, 0, 0, time.Local)
	c.now = func() time.Time { return now }

	// No scheduled start known yet: inert.
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("Check without state = %v", err)
	}

	// Two hours out: fires.
	c.State().Set(KeyScheduledStart, now.Unix()+7200)
	err = c.Check(context.Background())
	var ae *AbortError
	if !errors.As(err, &ae) {
		t.Fatalf("Check = %v, want *AbortError", err)
	}
	want := fmt.Sprintf("current time (%s) until scheduled start time (%s): 7200 secs >= 3600 secs",
		now.Format("2006-01-02 15:04:05"), time.Unix(now.Unix()+7200, 0).Format("2006-01-02 15:04:05"))
	if ae.Message != want {
		t.Errorf("message = %q\nwant      %q", ae.Message, want)
	}

	// Thirty minutes out: below the threshold, no longer fires.
	c.State().Set(KeyScheduledStart, now.Unix()+1800)
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check below threshold = %v", err)
	}
}

func TestChangedStartPredicate(t *testing.T) {
	const layout = "2006-01-02 15:04"
	base := time.Date(2020, 9, 13, 5, 0, 0, 0, time.Local).Unix()

	tests := []struct {
		name      string
		arg       string
		orig, cur int64
		fire      bool
		verb      string
	}{
		{"unchanged", layout, base, base, false, ""},
		{"changed any direction", layout, base, base + 3600, true, "changed"},
		{"moved earlier bare", layout, base, base - 3600, true, "changed"},
		{"plus fires on later", "+" + layout, base, base + 3600, true, "increased"},
		{"plus ignores earlier", "+" + layout, base, base - 3600, false, ""},
		{"minus fires on earlier", "-" + layout, base, base - 3600, true, "decreased"},
		{"minus ignores later", "-" + layout, base, base + 3600, false, ""},
		{"sub-minute shift invisible to layout", layout, base, base + 10, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse([]string{"changed_scheduled_start_time:" + tt.arg}, ParseConfig{})
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			c.State().Set(KeyOrigScheduledStart, tt.orig)
			c.State().Set(KeyScheduledStart, tt.cur)

			err = c.Check(context.Background())
			var ae *AbortError
			fired := errors.As(err, &ae)
			if fired != tt.fire {
				t.Fatalf("fired = %v (err %v), want %v", fired, err, tt.fire)
			}
			if !fired {
				return
			}
			layoutOnly := strings.TrimLeft(tt.arg, "+-")
			wantPrefix := fmt.Sprintf("scheduled start time formatted as '%s' %s to ", layoutOnly, tt.verb)
			if !strings.HasPrefix(ae.Message, wantPrefix) {
				t.Errorf("message = %q, want prefix %q", ae.Message, wantPrefix)
			}
			if !strings.Contains(ae.Message, "(originally ") {
				t.Errorf("message = %q missing original clause", ae.Message)
			}
		})
	}
}

func TestCheckGroupSemantics(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")

	// One group requiring both files, one requiring just b.
	c, err := Parse([]string{
		"file_exists:" + a + " & file_exists:" + b,
		"file_exists:" + b,
	}, ParseConfig{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ctx := context.Background()

	if err := c.Check(ctx); err != nil {
		t.Fatalf("Check with no files = %v", err)
	}

	if err := os.WriteFile(a, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	// Only the AND group's first predicate holds; nothing fires.
	if err := c.Check(ctx); err != nil {
		t.Fatalf("Check with only a = %v", err)
	}

	if err := os.WriteFile(b, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	err = c.Check(ctx)
	var ae *AbortError
	if !errors.As(err, &ae) {
		t.Fatalf("Check = %v, want *AbortError", err)
	}
	// First group wins and joins its predicate messages.
	if !strings.Contains(ae.Message, " AND ") {
		t.Errorf("message = %q, want AND join", ae.Message)
	}
	if !strings.Contains(ae.Message, "'"+a+"'") || !strings.Contains(ae.Message, "'"+b+"'") {
		t.Errorf("message = %q, want both paths", ae.Message)
	}
}

func TestCheckRunsUpdaters(t *testing.T) {
	dir := t.TempDir()
	c, err := Parse([]string{"file_exists:" + filepath.Join(dir, "never")}, ParseConfig{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	calls := 0
	c.AddUpdater(func(ctx context.Context) error {
		calls++
		return nil
	})
	c.AddUpdater(func(ctx context.Context) error {
		return errors.New("transient")
	})

	ctx := context.Background()
	if err := c.Check(ctx); err != nil {
		t.Fatalf("Check = %v", err)
	}
	if err := c.Check(ctx); err != nil {
		t.Fatalf("Check = %v", err)
	}
	if calls != 2 {
		t.Errorf("updater calls = %d, want 2", calls)
	}
}
