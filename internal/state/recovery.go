package state

import (
	"database/sql"
	"fmt"
)

// recoveryLogWindow is how far back in git history Recover looks when
// verifying ceremony commits. Rollbacks that discard a ceremony commit
// are recent by nature, so a bounded window is enough.
const recoveryLogWindow = 500

// recoveryRowWindow bounds how many recent ceremonies are verified.
const recoveryRowWindow = 100

// Recover reconciles the database with git history after a crash or an
// external reset. It first drops any git commit left orphaned by a
// crash between the git commit and its paired SQL commit, then treats
// git as the source of truth: a ceremony row whose commit is missing
// never happened, so the row and everything it produced are deleted.
func (c *Coordinator) Recover() (int, error) {
	if err := c.dropOrphanCommit(); err != nil {
		return 0, err
	}

	commits, err := c.git.Log(recoveryLogWindow)
	if err != nil {
		return 0, fmt.Errorf("read git history: %w", err)
	}
	known := make(map[string]bool, len(commits))
	for _, commit := range commits {
		known[commit.SHA] = true
	}

	rows, err := c.store.Query(`
		SELECT id, commit_sha FROM ceremonies
		ORDER BY id DESC LIMIT ?`, recoveryRowWindow)
	if err != nil {
		return 0, fmt.Errorf("list ceremonies: %w", err)
	}

	var orphans []int64
	for rows.Next() {
		var id int64
		var sha sql.NullString
		if err := rows.Scan(&id, &sha); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan ceremony: %w", err)
		}
		if !sha.Valid || sha.String == "" || !known[sha.String] {
			orphans = append(orphans, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	err = c.store.WithTx(func(tx *sql.Tx) error {
		for _, id := range orphans {
			if _, err := tx.Exec("DELETE FROM learnings WHERE source_ceremony_id = ?", id); err != nil {
				return fmt.Errorf("delete orphaned learnings: %w", err)
			}
			if _, err := tx.Exec("DELETE FROM action_items WHERE ceremony_id = ?", id); err != nil {
				return fmt.Errorf("delete orphaned action items: %w", err)
			}
			if _, err := tx.Exec("DELETE FROM ceremonies WHERE id = ?", id); err != nil {
				return fmt.Errorf("delete orphaned ceremony: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	c.logger.Warn("removed ceremonies with no backing commit", "count", len(orphans))
	return len(orphans), nil
}

// dropOrphanCommit consults the pending-commit journal. A journal with
// HEAD advanced past its recorded parent and HEAD's subject matching
// the journaled headline means the git commit landed but its SQL
// transaction did not; the commit is discarded. Any other journal is
// stale and simply removed.
func (c *Coordinator) dropOrphanCommit() error {
	j, err := c.readJournal()
	if err != nil {
		return err
	}
	if j == nil {
		return nil
	}
	defer c.clearJournal()

	head, err := c.git.HeadSHA()
	if err != nil {
		return fmt.Errorf("resolve HEAD: %w", err)
	}
	if head == j.PrevHead {
		return nil
	}
	recent, err := c.git.Log(1)
	if err != nil {
		return fmt.Errorf("read git history: %w", err)
	}
	if len(recent) == 0 || recent[0].Subject != j.Headline {
		return nil
	}

	if err := c.git.UndoLastCommit(); err != nil {
		return fmt.Errorf("undo orphaned commit: %w", err)
	}
	c.logger.Warn("dropped commit with no backing transaction",
		"sha", head, "subject", j.Headline)
	return nil
}
