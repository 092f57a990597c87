// Package abort parses and evaluates operator-defined abort conditions.
// Each --abort_condition flag contributes one group of '&'-joined
// predicates; groups OR together, predicates within a group AND together.
package abort

import (
	"context"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/lbmaian/chat-downloader/logging"
)

// AbortError ends the capture loop with a clean exit; its message lists the
// satisfied predicates of the winning group joined with " AND ".
type AbortError struct {
	Message string
}

func (e *AbortError) Error() string { return e.Message }

// predicate is one runtime condition inside a group.
type predicate interface {
	Name() string
	// Eval reports whether the condition holds and, when it does, the
	// human-readable reason.
	Eval(now time.Time, st *State) (bool, string)
}

// ParseConfig configures Parse.
type ParseConfig struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// SignalPolicy applies a SIGNAME:{default|enable|disable} option. An
	// error rejects the whole flag as an unrecognized signal name. Nil
	// rejects every signal option.
	SignalPolicy func(name, mode string) error
}

// Checker evaluates abort conditions against the shared video state. With no
// groups registered, Check is a no-op.
type Checker struct {
	logger   *slog.Logger
	state    *State
	groups   [][]predicate
	updaters []func(ctx context.Context) error
	now      func() time.Time
}

// Parse builds a Checker from --abort_condition values. Signal options
// mutate the policy table via cfg.SignalPolicy and leave no runtime group
// behind.
func Parse(conditions []string, cfg ParseConfig) (*Checker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Checker{
		logger: logger,
		state:  NewState(logger),
		now:    time.Now,
	}

	for _, raw := range conditions {
		tokens, err := splitGroup(raw)
		if err != nil {
			return nil, err
		}
		var group []predicate
		seen := map[string]bool{}
		signalOnly := false
		for _, token := range tokens {
			name, arg, ok := strings.Cut(token, ":")
			if !ok {
				return nil, fmt.Errorf("invalid abort condition %q (want name:value)", token)
			}
			if seen[name] {
				return nil, fmt.Errorf("multiple %s conditions cannot exist in the same abort condition group", name)
			}
			seen[name] = true

			p, err := parsePredicate(name, arg)
			if err != nil {
				return nil, err
			}
			if p == nil {
				// Signal option: must stand alone in its group.
				if len(tokens) > 1 {
					return nil, fmt.Errorf("%s condition must be the only condition in its group", name)
				}
				if err := applySignalOption(name, arg, cfg.SignalPolicy); err != nil {
					return nil, err
				}
				signalOnly = true
				continue
			}
			group = append(group, p)
		}
		if !signalOnly && len(group) > 0 {
			c.groups = append(c.groups, group)
		}
	}
	return c, nil
}

// State exposes the shared video state for the engine updater.
func (c *Checker) State() *State { return c.state }

// Empty reports whether no runtime groups were registered.
func (c *Checker) Empty() bool { return len(c.groups) == 0 }

// AddUpdater registers a state updater run at the start of every Check.
func (c *Checker) AddUpdater(f func(ctx context.Context) error) {
	c.updaters = append(c.updaters, f)
}

// Check runs the updaters, flushes the state changelog, and evaluates each
// group in order. The first fully-satisfied group returns an *AbortError.
func (c *Checker) Check(ctx context.Context) error {
	if c.Empty() {
		return nil
	}
	for _, update := range c.updaters {
		if err := update(ctx); err != nil {
			c.logger.Warn("abort state update failed", slog.Any("err", err))
		}
	}
	c.state.Flush(ctx)

	now := c.now()
	for _, group := range c.groups {
		messages := make([]string, 0, len(group))
		satisfied := true
		for _, p := range group {
			ok, msg := p.Eval(now, c.state)
			c.logger.Log(ctx, logging.LevelTrace, "abort condition evaluated",
				slog.String("condition", p.Name()), slog.Bool("satisfied", ok))
			if !ok {
				satisfied = false
				break
			}
			messages = append(messages, msg)
		}
		if satisfied {
			return &AbortError{Message: strings.Join(messages, " AND ")}
		}
	}
	return nil
}

// splitGroup tokenizes one group: predicates separated by '&', with '\&'
// escaping a literal ampersand and '\\' a literal backslash. Other escapes
// pass through verbatim.
func splitGroup(raw string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	flush := func() error {
		token := strings.TrimSpace(cur.String())
		cur.Reset()
		if token == "" {
			return fmt.Errorf("empty condition in abort condition group %q", raw)
		}
		tokens = append(tokens, token)
		return nil
	}
	for i := 0; i < len(raw); i++ {
		switch ch := raw[i]; ch {
		case '\\':
			if i+1 >= len(raw) {
				return nil, fmt.Errorf("trailing backslash in abort condition group %q", raw)
			}
			i++
			if next := raw[i]; next == '&' || next == '\\' {
				cur.WriteByte(next)
			} else {
				cur.WriteByte('\\')
				cur.WriteByte(next)
			}
		case '&':
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			cur.WriteByte(ch)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return tokens, nil
}

func applySignalOption(name, mode string, policy func(name, mode string) error) error {
	switch mode {
	case "default", "enable", "disable":
	default:
		return fmt.Errorf("invalid signal policy %q for %s (want default, enable, or disable)", mode, name)
	}
	if policy == nil {
		return fmt.Errorf("unrecognized signal name %q", name)
	}
	if err := policy(name, mode); err != nil {
		return fmt.Errorf("unrecognized signal name %q: %w", name, err)
	}
	return nil
}
