package gitops

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// newTestRepo initializes a git repository in a temp dir with identity
// configured so commits work in CI.
func newTestRepo(t *testing.T) *ExecGateway {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	g := NewGateway(t.TempDir())
	if err := g.Init(); err != nil {
		t.Fatalf("init repo: %v", err)
	}
	for _, kv := range [][2]string{
		{"user.email", "test@gao-dev.local"},
		{"user.name", "gao-dev test"},
		{"commit.gpgsign", "false"},
	} {
		if err := g.runSilent("config", kv[0], kv[1]); err != nil {
			t.Fatalf("git config %s: %v", kv[0], err)
		}
	}
	return g
}

// writeAndCommit writes a file and commits it with the given message.
func writeAndCommit(t *testing.T, g *ExecGateway, name string, msg CommitMessage) string {
	t.Helper()
	path := filepath.Join(g.Root(), name)
	if err := os.WriteFile(path, []byte("content\n"), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := g.Stage(name); err != nil {
		t.Fatalf("stage %s: %v", name, err)
	}
	sha, err := g.Commit(msg)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return sha
}

func TestGateway_CommitAndLog(t *testing.T) {
	g := newTestRepo(t)

	msg, err := NewCommitMessage("feat", "1.1", "add readme")
	if err != nil {
		t.Fatalf("NewCommitMessage: %v", err)
	}
	sha := writeAndCommit(t, g, "README.md", msg)

	if sha == "" {
		t.Fatal("Commit returned empty SHA")
	}

	commits, err := g.Log(10)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(commits) != 1 {
		t.Fatalf("got %d commits, want 1", len(commits))
	}
	if commits[0].SHA != sha {
		t.Errorf("Log SHA = %q, want %q", commits[0].SHA, sha)
	}
	if commits[0].Subject != "feat(1.1): add readme" {
		t.Errorf("Log subject = %q, want %q", commits[0].Subject, "feat(1.1): add readme")
	}

	found, err := g.HasCommit("feat(1.1): add readme", 10)
	if err != nil {
		t.Fatalf("HasCommit: %v", err)
	}
	if !found {
		t.Error("HasCommit did not find the commit subject")
	}
}

func TestGateway_EmptyRepo(t *testing.T) {
	g := newTestRepo(t)

	sha, err := g.HeadSHA()
	if err != nil {
		t.Fatalf("HeadSHA on empty repo: %v", err)
	}
	if sha != "" {
		t.Errorf("HeadSHA = %q, want empty on fresh repo", sha)
	}

	commits, err := g.Log(5)
	if err != nil {
		t.Fatalf("Log on empty repo: %v", err)
	}
	if len(commits) != 0 {
		t.Errorf("got %d commits on empty repo, want 0", len(commits))
	}
}

func TestGateway_UndoLastCommit(t *testing.T) {
	g := newTestRepo(t)

	first, _ := NewCommitMessage("chore", "state", "initial")
	writeAndCommit(t, g, "a.txt", first)
	second, _ := NewCommitMessage("feat", "1.2", "add feature file")
	writeAndCommit(t, g, "b.txt", second)

	if err := g.UndoLastCommit(); err != nil {
		t.Fatalf("UndoLastCommit: %v", err)
	}

	commits, err := g.Log(10)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(commits) != 1 {
		t.Fatalf("got %d commits after undo, want 1", len(commits))
	}
	if commits[0].Subject != "chore(state): initial" {
		t.Errorf("HEAD subject = %q, want the first commit", commits[0].Subject)
	}

	if _, err := os.Stat(filepath.Join(g.Root(), "b.txt")); !os.IsNotExist(err) {
		t.Error("undone commit left its file in the work tree")
	}
}

func TestGateway_ResetHard(t *testing.T) {
	g := newTestRepo(t)

	first, _ := NewCommitMessage("chore", "state", "initial")
	writeAndCommit(t, g, "a.txt", first)
	base, err := g.HeadSHA()
	if err != nil {
		t.Fatalf("HeadSHA: %v", err)
	}
	second, _ := NewCommitMessage("feat", "1.2", "add feature file")
	writeAndCommit(t, g, "b.txt", second)
	third, _ := NewCommitMessage("feat", "1.3", "add another file")
	writeAndCommit(t, g, "c.txt", third)

	if err := g.ResetHard(base); err != nil {
		t.Fatalf("ResetHard: %v", err)
	}

	head, err := g.HeadSHA()
	if err != nil {
		t.Fatalf("HeadSHA after reset: %v", err)
	}
	if head != base {
		t.Errorf("HEAD = %s, want %s", head, base)
	}
	if _, err := os.Stat(filepath.Join(g.Root(), "c.txt")); !os.IsNotExist(err) {
		t.Error("reset left a later commit's file in the work tree")
	}
}

func TestGateway_CommitRejectsInvalidMessage(t *testing.T) {
	g := newTestRepo(t)

	if _, err := g.Commit(CommitMessage{Type: "yolo", Scope: "x", Subject: "y"}); err == nil {
		t.Error("Commit accepted an invalid message")
	}
}

func TestGateway_Tag(t *testing.T) {
	g := newTestRepo(t)

	msg, _ := NewCommitMessage("chore", "state", "initial")
	writeAndCommit(t, g, "a.txt", msg)

	if err := g.Tag("gaodev-migration-v0"); err != nil {
		t.Fatalf("Tag: %v", err)
	}
	out, err := g.run("tag", "--list")
	if err != nil {
		t.Fatalf("list tags: %v", err)
	}
	if out != "gaodev-migration-v0" {
		t.Errorf("tags = %q, want gaodev-migration-v0", out)
	}
}

func TestGateway_DeleteTag(t *testing.T) {
	g := newTestRepo(t)

	msg, _ := NewCommitMessage("chore", "state", "initial")
	writeAndCommit(t, g, "a.txt", msg)

	if err := g.Tag("gaodev-migration-v1"); err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if err := g.DeleteTag("gaodev-migration-v1"); err != nil {
		t.Fatalf("DeleteTag: %v", err)
	}
	out, err := g.run("tag", "--list")
	if err != nil {
		t.Fatalf("list tags: %v", err)
	}
	if out != "" {
		t.Errorf("tags after delete = %q, want none", out)
	}

	// Deleting again is a no-op.
	if err := g.DeleteTag("gaodev-migration-v1"); err != nil {
		t.Errorf("DeleteTag on missing tag = %v, want nil", err)
	}
}

func TestGateway_BranchAndCheckout(t *testing.T) {
	g := newTestRepo(t)

	msg, _ := NewCommitMessage("chore", "state", "initial")
	writeAndCommit(t, g, "a.txt", msg)

	main, err := g.CurrentBranch()
	if err != nil {
		t.Fatalf("CurrentBranch: %v", err)
	}

	if err := g.CreateBranch("epic-2-search"); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	branch, err := g.CurrentBranch()
	if err != nil {
		t.Fatalf("CurrentBranch: %v", err)
	}
	if branch != "epic-2-search" {
		t.Errorf("branch = %q, want epic-2-search", branch)
	}

	if err := g.Checkout(main); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if branch, _ = g.CurrentBranch(); branch != main {
		t.Errorf("branch after checkout = %q, want %q", branch, main)
	}
}
