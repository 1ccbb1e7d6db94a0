// Package version reports the gao-dev release the binary was built
// from. The VERSION file next to this package is the single source of
// truth; it is embedded so the binary needs no build-time flags.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// Get returns the release version without surrounding whitespace.
func Get() string {
	return strings.TrimSpace(raw)
}
