// Package state is the only component allowed to mutate entities.
// Every mutating operation pairs one SQL transaction with exactly one
// git commit; either both land or neither does.
package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gao-dev/gao-dev/internal/gitops"
	"github.com/gao-dev/gao-dev/internal/logging"
	"github.com/gao-dev/gao-dev/internal/store"
	"github.com/gao-dev/gao-dev/pkg/models"
)

// Coordinator owns the store and the git gateway for one project tree.
type Coordinator struct {
	store            *store.Store
	git              gitops.Gateway
	root             string
	logger           *slog.Logger
	now              func() time.Time
	circuitThreshold int
}

// NewCoordinator creates a state coordinator for the project at root.
func NewCoordinator(s *store.Store, git gitops.Gateway, root string, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:            s,
		git:              git,
		root:             root,
		logger:           logging.OrNop(logger),
		now:              time.Now,
		circuitThreshold: models.CircuitOpenThreshold,
	}
}

// SetClock overrides the time source, for tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// SetCircuitThreshold sets the consecutive-failure count at which a
// ceremony circuit opens. Values below 1 are ignored.
func (c *Coordinator) SetCircuitThreshold(n int) {
	if n >= 1 {
		c.circuitThreshold = n
	}
}

// Store exposes the underlying store for read-only queries.
func (c *Coordinator) Store() *store.Store {
	return c.store
}

// journalName is the pending-commit journal written next to the
// database before each git commit. If the process dies between the git
// commit and the SQL commit, the journal identifies the orphaned
// commit so Recover can drop it.
const journalName = "pending-commit.json"

type commitJournal struct {
	Headline  string    `json:"headline"`
	PrevHead  string    `json:"prev_head"`
	WrittenAt time.Time `json:"written_at"`
}

func (c *Coordinator) journalPath() string {
	return filepath.Join(c.root, ".gao-dev", journalName)
}

func (c *Coordinator) writeJournal(msg gitops.CommitMessage, prevHead string) error {
	j := commitJournal{
		Headline:  fmt.Sprintf("%s(%s): %s", msg.Type, msg.Scope, msg.Subject),
		PrevHead:  prevHead,
		WrittenAt: c.now().UTC(),
	}
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal commit journal: %w", err)
	}
	if err := os.WriteFile(c.journalPath(), data, 0644); err != nil {
		return fmt.Errorf("write commit journal: %w", err)
	}
	return nil
}

func (c *Coordinator) readJournal() (*commitJournal, error) {
	data, err := os.ReadFile(c.journalPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read commit journal: %w", err)
	}
	var j commitJournal
	if err := json.Unmarshal(data, &j); err != nil {
		// A torn write means the journal landed before the commit
		// could have. Nothing to reconcile.
		return nil, nil
	}
	return &j, nil
}

func (c *Coordinator) clearJournal() {
	if err := os.Remove(c.journalPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("failed to remove commit journal", "error", err)
	}
}

// commitPaired journals the intended commit, stages the tree, and
// commits. The journal stays on disk if Commit errors because the
// commit may still have landed; startup recovery reconciles it.
func (c *Coordinator) commitPaired(msg gitops.CommitMessage) (string, error) {
	prevHead, err := c.git.HeadSHA()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	if err := c.writeJournal(msg, prevHead); err != nil {
		return "", err
	}
	if err := c.git.StageAll(); err != nil {
		c.clearJournal()
		return "", fmt.Errorf("stage changes: %w", err)
	}
	sha, err := c.git.Commit(msg)
	if err != nil {
		return "", fmt.Errorf("commit changes: %w", err)
	}
	return sha, nil
}

// mutate runs writes and a git commit as one unit. Inside the SQL
// transaction it executes the writes, stages the whole tree, commits
// git, then hands the SHA back to the writes' closure via commit. If
// the SQL commit fails after the git commit landed, the git commit is
// discarded to keep the 1:1 pairing.
func (c *Coordinator) mutate(msg gitops.CommitMessage, writes func(tx *sql.Tx) error, afterCommit func(tx *sql.Tx, sha string) error) (string, error) {
	var sha string
	err := c.store.WithTx(func(tx *sql.Tx) error {
		if err := writes(tx); err != nil {
			return err
		}
		s, err := c.commitPaired(msg)
		if err != nil {
			return err
		}
		sha = s
		if afterCommit != nil {
			if err := afterCommit(tx, s); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if sha != "" {
			if uerr := c.git.UndoLastCommit(); uerr != nil {
				c.logger.Error("failed to undo orphaned commit",
					"sha", sha, "error", uerr)
			}
			c.clearJournal()
		}
		return "", err
	}
	c.clearJournal()
	return sha, nil
}

// writeArtifacts writes files under the project root so the following
// stage-and-commit picks them up.
func (c *Coordinator) writeArtifacts(artifacts []models.Artifact) error {
	for _, a := range artifacts {
		path := filepath.Join(c.root, a.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create artifact directory: %w", err)
		}
		if err := os.WriteFile(path, a.Bytes, 0644); err != nil {
			return fmt.Errorf("write artifact %s: %w", a.Path, err)
		}
	}
	return nil
}
