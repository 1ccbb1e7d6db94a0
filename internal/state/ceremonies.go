package state

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gao-dev/gao-dev/internal/gitops"
	"github.com/gao-dev/gao-dev/internal/store"
	"github.com/gao-dev/gao-dev/pkg/models"
)

// RecordCeremony persists a ceremony with its action items and
// learnings, commits the transcript artifact, and stores the commit SHA
// on the ceremony row. Recording is idempotent on (epic, type, held_at
// truncated to the second): a duplicate call returns the existing row
// and makes no new commit.
func (c *Coordinator) RecordCeremony(cer models.Ceremony, items []models.ActionItem, learnings []models.Learning, artifacts []models.Artifact) (models.Ceremony, error) {
	epic, err := c.GetEpic(cer.EpicNum)
	if err != nil {
		return models.Ceremony{}, err
	}
	if epic == nil {
		return models.Ceremony{}, fmt.Errorf("epic %d not found", cer.EpicNum)
	}
	if !cer.Type.Valid() {
		return models.Ceremony{}, fmt.Errorf("invalid ceremony type %q", cer.Type)
	}

	key := idempotencyKey(cer.EpicNum, cer.Type, cer.HeldAt)
	if existing, err := c.ceremonyByKey(key); err != nil {
		return models.Ceremony{}, err
	} else if existing != nil {
		c.logger.Info("ceremony already recorded", "id", existing.ID, "key", key)
		return *existing, nil
	}

	if err := c.writeArtifacts(artifacts); err != nil {
		return models.Ceremony{}, err
	}

	msg, err := gitops.NewCommitMessage("chore", epic.FeatureName,
		fmt.Sprintf("record %s ceremony for epic %d", cer.Type, cer.EpicNum))
	if err != nil {
		return models.Ceremony{}, err
	}

	recorded := cer
	_, err = c.mutate(msg, func(tx *sql.Tx) error {
		var storyNum any
		if cer.StoryNum > 0 {
			storyNum = cer.StoryNum
		}
		res, err := tx.Exec(`
			INSERT INTO ceremonies (epic_num, story_num, type, phase, held_at, duration_ms, participants, transcript, summary, outcome, mid_epic, idempotency_key)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cer.EpicNum, storyNum, string(cer.Type), string(cer.Phase),
			store.FormatTime(cer.HeldAt), cer.DurationMS,
			strings.Join(cer.Participants, ","), cer.Transcript, cer.Summary,
			string(cer.Outcome), cer.MidEpic, key)
		if err != nil {
			return fmt.Errorf("insert ceremony: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("ceremony id: %w", err)
		}
		recorded.ID = id

		for _, item := range items {
			if !item.Priority.Valid() {
				return fmt.Errorf("invalid action item priority %q", item.Priority)
			}
			_, err := tx.Exec(`
				INSERT INTO action_items (ceremony_id, priority, description, status, auto_promote, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				id, string(item.Priority), item.Description, string(models.ActionOpen),
				item.Priority.AutoPromotes(), store.FormatTime(cer.HeldAt))
			if err != nil {
				return fmt.Errorf("insert action item: %w", err)
			}
		}

		for _, l := range learnings {
			if err := insertLearning(tx, l, id, cer.HeldAt); err != nil {
				return err
			}
		}

		return c.applyCeremonyOutcome(tx, cer.EpicNum, cer.Type, cer.Outcome, cer.HeldAt)
	}, func(tx *sql.Tx, sha string) error {
		recorded.CommitSHA = sha
		_, err := tx.Exec("UPDATE ceremonies SET commit_sha = ? WHERE id = ?", sha, recorded.ID)
		if err != nil {
			return fmt.Errorf("store commit sha: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Ceremony{}, err
	}

	c.logger.Info("ceremony recorded",
		"id", recorded.ID, "epic", cer.EpicNum, "type", string(cer.Type), "outcome", string(cer.Outcome))
	return recorded, nil
}

// applyCeremonyOutcome updates the safety rows for the epic inside the
// recording transaction: last held time and failure streak for the
// ceremony's type, total count mirrored on every row.
func (c *Coordinator) applyCeremonyOutcome(tx *sql.Tx, epicNum int, t models.CeremonyType, outcome models.CeremonyOutcome, heldAt time.Time) error {
	if _, err := tx.Exec(`
		UPDATE safety_state SET total_ceremonies = total_ceremonies + 1
		WHERE epic_num = ?`, epicNum); err != nil {
		return fmt.Errorf("bump ceremony total: %w", err)
	}

	var err error
	switch outcome {
	case models.OutcomeSuccess:
		_, err = tx.Exec(`UPDATE safety_state
			SET last_held_at = ?, consecutive_failures = 0, circuit = 'closed'
			WHERE epic_num = ? AND type = ?`,
			store.FormatTime(heldAt), epicNum, string(t))
	case models.OutcomeFailed:
		_, err = tx.Exec(`UPDATE safety_state
			SET last_held_at = ?,
			    consecutive_failures = consecutive_failures + 1,
			    circuit = CASE WHEN consecutive_failures + 1 >= ? THEN 'open' ELSE circuit END
			WHERE epic_num = ? AND type = ?`,
			store.FormatTime(heldAt), c.circuitThreshold, epicNum, string(t))
	default:
		// Partial outcomes record the attempt but leave the streak alone.
		_, err = tx.Exec(`UPDATE safety_state SET last_held_at = ?
			WHERE epic_num = ? AND type = ?`,
			store.FormatTime(heldAt), epicNum, string(t))
	}
	if err != nil {
		return fmt.Errorf("update safety state: %w", err)
	}
	return nil
}

func idempotencyKey(epicNum int, t models.CeremonyType, heldAt time.Time) string {
	return fmt.Sprintf("%d:%s:%s", epicNum, t, heldAt.UTC().Truncate(time.Second).Format(time.RFC3339))
}

func (c *Coordinator) ceremonyByKey(key string) (*models.Ceremony, error) {
	row := c.store.QueryRow(ceremonySelect+" WHERE idempotency_key = ?", key)
	cer, err := scanCeremony(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup ceremony by key: %w", err)
	}
	return cer, nil
}

// GetCeremony returns the ceremony with the given id, or nil if absent.
func (c *Coordinator) GetCeremony(id int64) (*models.Ceremony, error) {
	row := c.store.QueryRow(ceremonySelect+" WHERE id = ?", id)
	cer, err := scanCeremony(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ceremony %d: %w", id, err)
	}
	return cer, nil
}

// ListCeremonies returns an epic's ceremonies in the order they were held.
func (c *Coordinator) ListCeremonies(epicNum int) ([]models.Ceremony, error) {
	rows, err := c.store.Query(ceremonySelect+" WHERE epic_num = ? ORDER BY held_at, id", epicNum)
	if err != nil {
		return nil, fmt.Errorf("list ceremonies: %w", err)
	}
	defer rows.Close()

	var out []models.Ceremony
	for rows.Next() {
		cer, err := scanCeremony(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ceremony: %w", err)
		}
		out = append(out, *cer)
	}
	return out, rows.Err()
}

// PlanningHeld reports whether a planning ceremony ran for the epic.
func (c *Coordinator) PlanningHeld(epicNum int) (bool, error) {
	return c.ceremonyExists(
		"SELECT COUNT(*) FROM ceremonies WHERE epic_num = ? AND type = 'planning'", epicNum)
}

// MidRetroHeld reports whether a mid-epic retrospective ran for the epic.
func (c *Coordinator) MidRetroHeld(epicNum int) (bool, error) {
	return c.ceremonyExists(
		"SELECT COUNT(*) FROM ceremonies WHERE epic_num = ? AND type = 'retrospective' AND mid_epic = 1", epicNum)
}

// PhaseRetroHeld reports whether a retrospective ran for the epic in the
// given phase.
func (c *Coordinator) PhaseRetroHeld(epicNum int, phase models.Phase) (bool, error) {
	var n int
	err := c.store.QueryRow(
		"SELECT COUNT(*) FROM ceremonies WHERE epic_num = ? AND type = 'retrospective' AND phase = ?",
		epicNum, string(phase)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query phase retrospectives: %w", err)
	}
	return n > 0, nil
}

// LastStandupAt returns when the last standup ran for the epic, zero if
// none has.
func (c *Coordinator) LastStandupAt(epicNum int) (time.Time, error) {
	var held sql.NullString
	err := c.store.QueryRow(
		"SELECT MAX(held_at) FROM ceremonies WHERE epic_num = ? AND type = 'standup'",
		epicNum).Scan(&held)
	if err != nil {
		return time.Time{}, fmt.Errorf("query last standup: %w", err)
	}
	if !held.Valid {
		return time.Time{}, nil
	}
	t, err := store.ParseTime(held.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last standup: %w", err)
	}
	return t, nil
}

func (c *Coordinator) ceremonyExists(query string, args ...any) (bool, error) {
	var n int
	if err := c.store.QueryRow(query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("query ceremonies: %w", err)
	}
	return n > 0, nil
}

const ceremonySelect = `
	SELECT id, epic_num, story_num, type, phase, held_at, duration_ms, participants, transcript, summary, outcome, commit_sha, mid_epic
	FROM ceremonies`

func scanCeremony(s scanner) (*models.Ceremony, error) {
	var cer models.Ceremony
	var storyNum sql.NullInt64
	var typ, heldAt string
	var phase, participants, transcript, summary, commitSHA sql.NullString
	var outcome string

	err := s.Scan(&cer.ID, &cer.EpicNum, &storyNum, &typ, &phase, &heldAt,
		&cer.DurationMS, &participants, &transcript, &summary, &outcome, &commitSHA, &cer.MidEpic)
	if err != nil {
		return nil, err
	}

	cer.StoryNum = int(storyNum.Int64)
	cer.Type = models.CeremonyType(typ)
	cer.Phase = models.Phase(phase.String)
	cer.Outcome = models.CeremonyOutcome(outcome)
	cer.Transcript = transcript.String
	cer.Summary = summary.String
	cer.CommitSHA = commitSHA.String
	if participants.Valid && participants.String != "" {
		cer.Participants = strings.Split(participants.String, ",")
	}
	if cer.HeldAt, err = store.ParseTime(heldAt); err != nil {
		return nil, fmt.Errorf("parse held_at: %w", err)
	}
	return &cer, nil
}
