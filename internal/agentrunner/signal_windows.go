//go:build windows

package agentrunner

import "os"

// Windows has no SIGTERM; cancellation kills outright.
var interruptSignal os.Signal = os.Kill
