package gitops

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gao-dev/gao-dev/pkg/models"
)

// SourceMarker is the file that marks the engine's own source tree.
// The engine refuses to orchestrate a project carrying this marker at
// its root or in any ancestor directory, because committing generated
// work into the engine's own repository destroys it.
const SourceMarker = ".gaodev-source"

// sourceLayout lists directories whose joint presence identifies a
// checkout of the engine itself, independent of the marker file. A
// clone made without the marker must still be refused.
var sourceLayout = []string{
	filepath.Join("cmd", "gao-dev"),
	filepath.Join("internal", "orchestrator"),
}

// GuardSourceTree returns a precondition error when root or any of its
// ancestors carries the source marker or the engine's own package
// layout.
func GuardSourceTree(root string) error {
	dir, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	for {
		marker := filepath.Join(dir, SourceMarker)
		if _, err := os.Stat(marker); err == nil {
			return models.NewPreconditionError(models.CodeSourceTree,
				fmt.Sprintf("refusing to operate on the engine source tree (found %s)", marker))
		}
		if looksLikeEngineSource(dir) {
			return models.NewPreconditionError(models.CodeSourceTree,
				fmt.Sprintf("refusing to operate on the engine source tree (recognized layout at %s)", dir))
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}

func looksLikeEngineSource(dir string) bool {
	for _, rel := range sourceLayout {
		info, err := os.Stat(filepath.Join(dir, rel))
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}
