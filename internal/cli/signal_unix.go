//go:build !windows

package cli

import (
	"os"
	"syscall"
)

// interruptSignals stop a long-running command such as a paced produce.
var interruptSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
