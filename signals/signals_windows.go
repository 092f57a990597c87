//go:build windows

package signals

import (
	"os"
	"syscall"
)

// hostSignals are the abort signals this platform can deliver. Ctrl+Break
// arrives as signal 21 via the console control handler.
var hostSignals = map[string]os.Signal{
	"SIGINT":   os.Interrupt,
	"SIGBREAK": syscall.Signal(21),
	"SIGTERM":  syscall.SIGTERM,
	"SIGABRT":  syscall.SIGABRT,
}
