//go:build unix

package signals

import (
	"os"
	"syscall"
)

// hostSignals are the abort signals this platform can deliver.
var hostSignals = map[string]os.Signal{
	"SIGINT":  syscall.SIGINT,
	"SIGQUIT": syscall.SIGQUIT,
	"SIGTERM": syscall.SIGTERM,
	"SIGABRT": syscall.SIGABRT,
}
