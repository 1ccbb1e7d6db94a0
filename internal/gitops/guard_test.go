package gitops

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gao-dev/gao-dev/pkg/models"
)

func TestGuardSourceTree_CleanTree(t *testing.T) {
	if err := GuardSourceTree(t.TempDir()); err != nil {
		t.Errorf("GuardSourceTree on clean tree = %v, want nil", err)
	}
}

func TestGuardSourceTree_MarkerAtRoot(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, SourceMarker), nil, 0644); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	err := GuardSourceTree(dir)
	if err == nil {
		t.Fatal("GuardSourceTree = nil, want precondition error")
	}
	var ce *models.CoreError
	if !errors.As(err, &ce) {
		t.Fatalf("error type = %T, want *models.CoreError", err)
	}
	if ce.Code != models.CodeSourceTree {
		t.Errorf("error code = %q, want %q", ce.Code, models.CodeSourceTree)
	}
}

func TestGuardSourceTree_MarkerInAncestor(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, SourceMarker), nil, 0644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	nested := filepath.Join(root, "projects", "demo")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}

	if err := GuardSourceTree(nested); err == nil {
		t.Error("GuardSourceTree missed marker in ancestor directory")
	}
}

func TestGuardSourceTree_RecognizedLayout(t *testing.T) {
	// A clone of the engine without the marker file is still refused
	// once its package layout is recognized.
	dir := t.TempDir()
	for _, rel := range sourceLayout {
		if err := os.MkdirAll(filepath.Join(dir, rel), 0755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
	}

	err := GuardSourceTree(dir)
	if err == nil {
		t.Fatal("GuardSourceTree = nil, want precondition error")
	}
	var ce *models.CoreError
	if !errors.As(err, &ce) {
		t.Fatalf("error type = %T, want *models.CoreError", err)
	}
	if ce.Code != models.CodeSourceTree {
		t.Errorf("error code = %q, want %q", ce.Code, models.CodeSourceTree)
	}
}

func TestGuardSourceTree_PartialLayoutAllowed(t *testing.T) {
	// A project that merely has an internal/ tree of its own must not
	// trip the layout check.
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "internal", "orchestrator"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := GuardSourceTree(dir); err != nil {
		t.Errorf("GuardSourceTree on partial layout = %v, want nil", err)
	}
}
