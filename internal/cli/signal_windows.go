//go:build windows

package cli

import (
	"os"
)

// interruptSignals stop a long-running command. Windows has no SIGTERM;
// os.Interrupt covers Ctrl+C and CTRL_BREAK_EVENT.
var interruptSignals = []os.Signal{os.Interrupt}
