//go:build unix

package signals

import (
	"context"
	"syscall"
	"testing"
	"time"
)

func raise(t *testing.T, sig syscall.Signal) {
	t.Helper()
	if err := syscall.Kill(syscall.Getpid(), sig); err != nil {
		t.Fatalf("kill: %v", err)
	}
}

func waitLine(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line := <-ch:
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal line")
		return ""
	}
}

func waitDone(t *testing.T, ctx context.Context) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for context cancel")
	}
}

func TestRouterDisableIgnoresSignal(t *testing.T) {
	lines := make(chan string, 4)
	r := NewRouter(nil, func(s string) { lines <- s })
	if err := r.SetPolicy("SIGINT", "disable"); err != nil {
		t.Fatalf("SetPolicy: %v", err)
	}

	ctx, stop := r.Start(context.Background())
	defer stop()

	raise(t, syscall.SIGINT)
	if got := waitLine(t, lines); got != "[Signal Received: SIGINT] Ignored" {
		t.Errorf("line = %q", got)
	}
	select {
	case <-ctx.Done():
		t.Error("disabled signal canceled the context")
	default:
	}

	// Still routing after the first signal.
	raise(t, syscall.SIGINT)
	if got := waitLine(t, lines); got != "[Signal Received: SIGINT] Ignored" {
		t.Errorf("second line = %q", got)
	}
}

func TestRouterEnableAborts(t *testing.T) {
	lines := make(chan string, 4)
	r := NewRouter(nil, func(s string) { lines <- s })
	if err := r.SetPolicy("SIGTERM", "enable"); err != nil {
		t.Fatalf("SetPolicy: %v", err)
	}

	ctx, stop := r.Start(context.Background())
	defer stop()

	raise(t, syscall.SIGTERM)
	if got := waitLine(t, lines); got != "[Signal Received: SIGTERM] Aborting" {
		t.Errorf("line = %q", got)
	}
	waitDone(t, ctx)
}

func TestRouterDefaultSIGINTCancelsSilently(t *testing.T) {
	lines := make(chan string, 4)
	r := NewRouter(nil, func(s string) { lines <- s })

	ctx, stop := r.Start(context.Background())
	defer stop()

	raise(t, syscall.SIGINT)
	waitDone(t, ctx)
	select {
	case line := <-lines:
		t.Errorf("default SIGINT printed %q", line)
	default:
	}
}

func TestRouterDefaultSIGTERMAnnounces(t *testing.T) {
	lines := make(chan string, 4)
	r := NewRouter(nil, func(s string) { lines <- s })

	ctx, stop := r.Start(context.Background())
	defer stop()

	raise(t, syscall.SIGTERM)
	if got := waitLine(t, lines); got != "[Signal Received: SIGTERM] Aborting" {
		t.Errorf("line = %q", got)
	}
	waitDone(t, ctx)
}

func TestStopAfterCancel(t *testing.T) {
	r := NewRouter(nil, func(string) {})
	parent, cancel := context.WithCancel(context.Background())
	_, stop := r.Start(parent)
	cancel()
	stop() // must not hang
}
