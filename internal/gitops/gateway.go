package gitops

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ExecGateway implements Gateway using exec.Command.
type ExecGateway struct {
	root string
}

// NewGateway creates a git gateway for the repository at the given root.
func NewGateway(root string) *ExecGateway {
	return &ExecGateway{root: root}
}

// run executes a git command and returns its trimmed output.
func (g *ExecGateway) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.root
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// runSilent executes a git command and ignores output.
func (g *ExecGateway) runSilent(args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.root
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return nil
}

// Root returns the repository root path.
func (g *ExecGateway) Root() string {
	return g.root
}

// IsRepo returns true if the root is inside a git work tree.
func (g *ExecGateway) IsRepo() (bool, error) {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = g.root
	out, err := cmd.CombinedOutput()
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return false, nil
		}
		return false, fmt.Errorf("check git repo: %w", err)
	}
	return strings.TrimSpace(string(out)) == "true", nil
}

// Init initializes a repository at the root.
func (g *ExecGateway) Init() error {
	return g.runSilent("init")
}

// CurrentBranch returns the name of the current branch.
func (g *ExecGateway) CurrentBranch() (string, error) {
	return g.run("rev-parse", "--abbrev-ref", "HEAD")
}

// Stage stages the specified paths for commit.
func (g *ExecGateway) Stage(paths ...string) error {
	args := append([]string{"add", "--"}, paths...)
	return g.runSilent(args...)
}

// StageAll stages all changes in the work tree.
func (g *ExecGateway) StageAll() error {
	return g.runSilent("add", "-A")
}

// Commit creates a commit with the given message and returns its SHA.
// The message is validated again here so nothing unvalidated reaches
// the history. Empty commits are allowed: a state mutation without
// work-tree changes still gets its paired commit.
func (g *ExecGateway) Commit(msg CommitMessage) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	if err := g.runSilent("commit", "--allow-empty", "-m", msg.String()); err != nil {
		return "", err
	}
	return g.HeadSHA()
}

// UndoLastCommit discards the most recent commit and its work tree
// changes.
func (g *ExecGateway) UndoLastCommit() error {
	return g.ResetHard("HEAD~1")
}

// ResetHard resets HEAD and the work tree to the given ref.
func (g *ExecGateway) ResetHard(ref string) error {
	return g.runSilent("reset", "--hard", ref)
}

// HasChanges returns true if there are uncommitted changes.
func (g *ExecGateway) HasChanges() (bool, error) {
	status, err := g.run("status", "--porcelain")
	if err != nil {
		return false, err
	}
	return len(status) > 0, nil
}

// HeadSHA returns the full hash of HEAD, or "" on an empty repository.
func (g *ExecGateway) HeadSHA() (string, error) {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = g.root
	out, err := cmd.CombinedOutput()
	if err != nil {
		// An empty repository has no HEAD yet.
		if strings.Contains(string(out), "unknown revision") ||
			strings.Contains(string(out), "ambiguous argument") {
			return "", nil
		}
		return "", fmt.Errorf("git rev-parse HEAD: %w: %s", err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// Log returns the most recent n commits, newest first.
func (g *ExecGateway) Log(n int) ([]Commit, error) {
	sha, err := g.HeadSHA()
	if err != nil {
		return nil, err
	}
	if sha == "" {
		return nil, nil
	}

	out, err := g.run("log", "-n", strconv.Itoa(n), "--format=%H%x00%s")
	if err != nil {
		return nil, err
	}

	var commits []Commit
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "\x00", 2)
		if len(parts) != 2 {
			continue
		}
		commits = append(commits, Commit{SHA: parts[0], Subject: parts[1]})
	}
	return commits, nil
}

// HasCommit returns true if any of the most recent n commits has the
// given subject line.
func (g *ExecGateway) HasCommit(subject string, n int) (bool, error) {
	commits, err := g.Log(n)
	if err != nil {
		return false, err
	}
	for _, c := range commits {
		if c.Subject == subject {
			return true, nil
		}
	}
	return false, nil
}

// Tag creates a lightweight tag at HEAD.
func (g *ExecGateway) Tag(name string) error {
	return g.runSilent("tag", "-f", name)
}

// DeleteTag removes a tag. Missing tags are not an error so checkpoint
// cleanup is idempotent.
func (g *ExecGateway) DeleteTag(name string) error {
	if err := g.runSilent("tag", "-d", name); err != nil {
		if _, lookupErr := g.run("rev-parse", "--verify", "refs/tags/"+name); lookupErr != nil {
			return nil
		}
		return err
	}
	return nil
}

// CreateBranch creates a branch at HEAD and switches to it.
func (g *ExecGateway) CreateBranch(name string) error {
	return g.runSilent("checkout", "-b", name)
}

// Checkout switches the work tree to the given ref.
func (g *ExecGateway) Checkout(ref string) error {
	return g.runSilent("checkout", ref)
}

// Verify ExecGateway implements Gateway at compile time.
var _ Gateway = (*ExecGateway)(nil)
