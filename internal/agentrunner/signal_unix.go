//go:build unix

package agentrunner

import (
	"os"
	"syscall"
)

// interruptSignal is sent on cancellation before the hard kill.
var interruptSignal os.Signal = syscall.SIGTERM
