// Package signals routes OS signals through the operator's policy table.
// SIGNAME:{default|enable|disable} abort options rewrite the table before
// the router starts.
package signals

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"log/slog"
)

// Policy is the handling mode for one signal.
type Policy int

const (
	// PolicyDefault cancels the run context; SIGINT does so silently (the
	// engine reports "[Interrupted]"), every other signal announces itself.
	PolicyDefault Policy = iota
	// PolicyEnable announces the signal and cancels the run context.
	PolicyEnable
	// PolicyDisable announces the signal and otherwise ignores it.
	PolicyDisable
)

// ParsePolicy maps a policy name to its Policy.
func ParsePolicy(mode string) (Policy, error) {
	switch mode {
	case "default":
		return PolicyDefault, nil
	case "enable":
		return PolicyEnable, nil
	case "disable":
		return PolicyDisable, nil
	}
	return 0, fmt.Errorf("invalid signal policy %q", mode)
}

// Router owns the policy table and the signal-handling goroutine. The
// handler itself does no work beyond printing and canceling; shutdown runs
// on the engine's unwind path.
type Router struct {
	mu       sync.Mutex
	policies map[string]Policy
	logger   *slog.Logger
	print    func(string)
}

// NewRouter builds a router over the host's abort signals, all mapped to
// PolicyDefault. print receives the user-facing signal lines; nil prints to
// stdout.
func NewRouter(logger *slog.Logger, print func(string)) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if print == nil {
		print = func(line string) { fmt.Println(line) }
	}
	policies := make(map[string]Policy, len(hostSignals))
	for name := range hostSignals {
		policies[name] = PolicyDefault
	}
	return &Router{policies: policies, logger: logger, print: print}
}

// SetPolicy rewrites the table entry for a signal name. Unknown names error;
// abort-condition parsing surfaces that as an unrecognized signal name.
func (r *Router) SetPolicy(name, mode string) error {
	policy, err := ParsePolicy(mode)
	if err != nil {
		return err
	}
	if _, ok := hostSignals[name]; !ok {
		return fmt.Errorf("signal %s not recognized on this platform", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[name] = policy
	return nil
}

// PolicyFor returns the current policy for a signal name.
func (r *Router) PolicyFor(name string) (Policy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.policies[name]
	return p, ok
}

// Start derives the run context and begins routing. The returned stop
// releases the signal subscription and waits for the goroutine; it is safe
// to call after the context is already canceled.
func (r *Router) Start(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	ch := make(chan os.Signal, 4)
	subscribed := make([]os.Signal, 0, len(hostSignals))
	for _, sig := range hostSignals {
		subscribed = append(subscribed, sig)
	}
	signal.Notify(ch, subscribed...)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				r.handle(sig, cancel)
			}
		}
	}()

	stop := func() {
		signal.Stop(ch)
		cancel()
		<-done
	}
	return ctx, stop
}

func (r *Router) handle(sig os.Signal, cancel context.CancelFunc) {
	name := signalName(sig)
	policy, ok := r.PolicyFor(name)
	if !ok {
		policy = PolicyDefault
	}
	r.logger.Debug("signal received", slog.String("signal", name), slog.Int("policy", int(policy)))

	switch policy {
	case PolicyDisable:
		r.print(fmt.Sprintf("[Signal Received: %s] Ignored", name))
	case PolicyEnable:
		r.print(fmt.Sprintf("[Signal Received: %s] Aborting", name))
		cancel()
	default:
		if name != "SIGINT" {
			r.print(fmt.Sprintf("[Signal Received: %s] Aborting", name))
		}
		cancel()
	}
}

func signalName(sig os.Signal) string {
	for name, s := range hostSignals {
		if s == sig {
			return name
		}
	}
	return sig.String()
}
