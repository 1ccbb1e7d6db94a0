package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/gao-dev/gao-dev/internal/gitops"
	"github.com/gao-dev/gao-dev/internal/store"
	"github.com/gao-dev/gao-dev/pkg/models"
)

// ExpireStaleActionItems batch-expires open low-priority items older
// than the expiry window. Running it twice is a no-op for already
// expired items. Expiry is bookkeeping, so no commit is paired with it.
func (c *Coordinator) ExpireStaleActionItems(now time.Time) (int, error) {
	cutoff := now.Add(-models.ActionItemExpiry)
	res, err := c.store.Exec(`
		UPDATE action_items SET status = ?, closed_at = ?
		WHERE status = ? AND priority = ? AND created_at <= ?`,
		string(models.ActionExpired), store.FormatTime(now),
		string(models.ActionOpen), string(models.PriorityLow), store.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("expire action items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count expired items: %w", err)
	}
	if n > 0 {
		c.logger.Info("action items expired", "count", n)
	}
	return int(n), nil
}

// ListOpenActionItems returns open and in-progress items for an epic,
// oldest first. Pass epicNum 0 for all epics.
func (c *Coordinator) ListOpenActionItems(epicNum int) ([]models.ActionItem, error) {
	query := actionItemSelect + `
		JOIN ceremonies c ON c.id = a.ceremony_id
		WHERE a.status IN ('open', 'in_progress')`
	args := []any{}
	if epicNum > 0 {
		query += " AND c.epic_num = ?"
		args = append(args, epicNum)
	}
	query += " ORDER BY a.created_at, a.id"

	return c.queryActionItems(query, args...)
}

// PromotableActionItems returns open items flagged for auto-promotion
// to candidate stories, for the next planning step.
func (c *Coordinator) PromotableActionItems(epicNum int) ([]models.ActionItem, error) {
	return c.queryActionItems(actionItemSelect+`
		JOIN ceremonies c ON c.id = a.ceremony_id
		WHERE a.status = 'open' AND a.auto_promote = 1 AND c.epic_num = ?
		ORDER BY a.created_at, a.id`, epicNum)
}

// PromoteActionItems converts an epic's open auto-promote items into
// draft stories on the same epic. The epic's planned story count grows
// with each promotion so completion accounting stays consistent. All
// promotions ride one transaction and one commit.
func (c *Coordinator) PromoteActionItems(epicNum int) ([]models.Story, error) {
	epic, err := c.GetEpic(epicNum)
	if err != nil {
		return nil, err
	}
	if epic == nil {
		return nil, fmt.Errorf("epic %d not found", epicNum)
	}

	items, err := c.PromotableActionItems(epicNum)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	var created []models.Story
	_, err = c.mutateDeferred(func(tx *sql.Tx) (gitops.CommitMessage, error) {
		var next int
		if err := tx.QueryRow(
			"SELECT COALESCE(MAX(story_num), 0) + 1 FROM stories WHERE epic_num = ?",
			epicNum).Scan(&next); err != nil {
			return gitops.CommitMessage{}, fmt.Errorf("allocate story number: %w", err)
		}

		now := c.now()
		created = created[:0]
		for _, item := range items {
			s := models.Story{
				EpicNum:      epicNum,
				StoryNum:     next,
				Title:        item.Description,
				Status:       models.StoryDraft,
				QualityGates: models.GatesUnknown,
				CreatedAt:    now,
			}
			if _, err := tx.Exec(`
				INSERT INTO stories (epic_num, story_num, title, status, quality_gates, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				s.EpicNum, s.StoryNum, s.Title, string(s.Status),
				string(s.QualityGates), store.FormatTime(s.CreatedAt)); err != nil {
				return gitops.CommitMessage{}, fmt.Errorf("insert promoted story: %w", err)
			}
			if _, err := tx.Exec(
				"UPDATE action_items SET status = ?, closed_at = ? WHERE id = ?",
				string(models.ActionDone), store.FormatTime(now), item.ID); err != nil {
				return gitops.CommitMessage{}, fmt.Errorf("close promoted item %d: %w", item.ID, err)
			}
			created = append(created, s)
			next++
		}

		if _, err := tx.Exec(
			"UPDATE epics SET total_stories = total_stories + ? WHERE epic_num = ?",
			len(items), epicNum); err != nil {
			return gitops.CommitMessage{}, fmt.Errorf("grow story count: %w", err)
		}

		return gitops.NewCommitMessage("chore", epic.FeatureName,
			fmt.Sprintf("promote %d action items to stories", len(items)))
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("action items promoted",
		"epic", epicNum, "count", len(created))
	return created, nil
}

// CloseActionItem moves an item to done or cancelled.
func (c *Coordinator) CloseActionItem(id int64, status models.ActionStatus) error {
	if status != models.ActionDone && status != models.ActionCancelled {
		return fmt.Errorf("invalid closing status %q", status)
	}
	res, err := c.store.Exec(
		"UPDATE action_items SET status = ?, closed_at = ? WHERE id = ? AND status IN ('open', 'in_progress')",
		string(status), store.FormatTime(c.now()), id)
	if err != nil {
		return fmt.Errorf("close action item %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("action item %d not open", id)
	}
	return nil
}

func (c *Coordinator) queryActionItems(query string, args ...any) ([]models.ActionItem, error) {
	rows, err := c.store.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query action items: %w", err)
	}
	defer rows.Close()

	var items []models.ActionItem
	for rows.Next() {
		item, err := scanActionItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

const actionItemSelect = `
	SELECT a.id, a.ceremony_id, a.priority, a.description, a.status, a.auto_promote, a.created_at, a.closed_at
	FROM action_items a`

func scanActionItem(s scanner) (*models.ActionItem, error) {
	var item models.ActionItem
	var priority, status, createdAt string
	var closedAt sql.NullString

	err := s.Scan(&item.ID, &item.CeremonyID, &priority, &item.Description,
		&status, &item.AutoPromoteToStory, &createdAt, &closedAt)
	if err != nil {
		return nil, err
	}

	item.Priority = models.ActionPriority(priority)
	item.Status = models.ActionStatus(status)
	if item.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	item.ClosedAt = store.ParseNullTime(closedAt)
	return &item, nil
}
