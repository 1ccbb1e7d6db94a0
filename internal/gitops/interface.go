// Package gitops provides the git gateway the state coordinator pairs
// its SQL transactions with. Every entity mutation produces exactly one
// commit through this package.
package gitops

// Commit is one entry in the repository history.
type Commit struct {
	// SHA is the full commit hash.
	SHA string
	// Subject is the first line of the commit message.
	Subject string
}

// RepoOperations defines repository-level operations.
type RepoOperations interface {
	// Root returns the repository root path.
	Root() string
	// IsRepo returns true if the root is inside a git work tree.
	IsRepo() (bool, error)
	// Init initializes a repository at the root.
	Init() error
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
}

// BranchOperations defines branch manipulation.
type BranchOperations interface {
	// CreateBranch creates a branch at HEAD and switches to it.
	CreateBranch(name string) error
	// Checkout switches the work tree to the given ref.
	Checkout(ref string) error
}

// CommitOperations defines staging and commit operations.
type CommitOperations interface {
	// Stage stages the specified paths for commit.
	Stage(paths ...string) error
	// StageAll stages all changes in the work tree.
	StageAll() error
	// Commit creates a commit with the given validated message.
	Commit(msg CommitMessage) (sha string, err error)
	// UndoLastCommit discards the most recent commit and its work tree
	// changes. Used when the paired SQL commit fails.
	UndoLastCommit() error
	// ResetHard resets HEAD and the work tree to the given ref.
	ResetHard(ref string) error
	// HasChanges returns true if there are uncommitted changes.
	HasChanges() (bool, error)
}

// HistoryOperations defines read-only history inspection.
type HistoryOperations interface {
	// HeadSHA returns the full hash of HEAD, or "" on an empty repository.
	HeadSHA() (string, error)
	// Log returns the most recent n commits, newest first.
	Log(n int) ([]Commit, error)
	// HasCommit returns true if any of the most recent n commits has the
	// given subject line.
	HasCommit(subject string, n int) (bool, error)
}

// TagOperations defines tag operations.
type TagOperations interface {
	// Tag creates a lightweight tag at HEAD.
	Tag(name string) error
	// DeleteTag removes a tag; a missing tag is not an error.
	DeleteTag(name string) error
}

// Gateway is the complete git interface the core depends on.
// Consumers should prefer the focused interfaces when possible.
type Gateway interface {
	RepoOperations
	BranchOperations
	CommitOperations
	HistoryOperations
	TagOperations
}
