package state

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gao-dev/gao-dev/internal/learning"
	"github.com/gao-dev/gao-dev/internal/store"
	"github.com/gao-dev/gao-dev/pkg/models"
)

var _ learning.Repository = (*Coordinator)(nil)

// ActiveLearnings returns all learnings that have not been superseded.
func (c *Coordinator) ActiveLearnings() ([]models.Learning, error) {
	rows, err := c.store.Query(learningSelect + " WHERE superseded_by IS NULL ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list active learnings: %w", err)
	}
	defer rows.Close()

	var out []models.Learning
	for rows.Next() {
		l, err := scanLearning(rows)
		if err != nil {
			return nil, fmt.Errorf("scan learning: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// GetLearning returns the learning with the given id, or nil if absent.
func (c *Coordinator) GetLearning(id int64) (*models.Learning, error) {
	row := c.store.QueryRow(learningSelect+" WHERE id = ?", id)
	l, err := scanLearning(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get learning %d: %w", id, err)
	}
	return l, nil
}

// RecordApplication inserts one application row and recomputes the
// learning's counters from the full application history, all in one
// transaction. Counter bookkeeping carries no artifact, so no commit is
// paired with it.
func (c *Coordinator) RecordApplication(app models.LearningApplication) (models.Learning, error) {
	var updated models.Learning
	err := c.store.WithTx(func(tx *sql.Tx) error {
		var storyNum any
		if app.StoryNum > 0 {
			storyNum = app.StoryNum
		}
		_, err := tx.Exec(`
			INSERT INTO learning_applications (learning_id, epic_num, story_num, outcome, applied_at, context)
			VALUES (?, ?, ?, ?, ?, ?)`,
			app.LearningID, app.EpicNum, storyNum, string(app.Outcome),
			store.FormatTime(app.AppliedAt), app.Context)
		if err != nil {
			return fmt.Errorf("insert application: %w", err)
		}

		var count int
		var weight float64
		err = tx.QueryRow(`
			SELECT COUNT(*),
			       COALESCE(SUM(CASE outcome WHEN 'success' THEN 1.0 WHEN 'partial' THEN 0.5 ELSE 0.0 END), 0)
			FROM learning_applications WHERE learning_id = ?`,
			app.LearningID).Scan(&count, &weight)
		if err != nil {
			return fmt.Errorf("aggregate applications: %w", err)
		}

		rate := 0.0
		if count > 0 {
			rate = weight / float64(count)
		}
		confidence := models.ConfidenceScore(count, rate)

		res, err := tx.Exec(`
			UPDATE learnings SET application_count = ?, success_rate = ?, confidence_score = ?
			WHERE id = ?`,
			count, rate, confidence, app.LearningID)
		if err != nil {
			return fmt.Errorf("update learning counters: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("learning %d not found", app.LearningID)
		}

		row := tx.QueryRow(learningSelect+" WHERE id = ?", app.LearningID)
		l, err := scanLearning(row)
		if err != nil {
			return fmt.Errorf("reload learning %d: %w", app.LearningID, err)
		}
		updated = *l
		return nil
	})
	if err != nil {
		return models.Learning{}, err
	}
	return updated, nil
}

// Supersede marks oldID as replaced by newID. Both learnings must exist
// and the replacement must not itself be superseded.
func (c *Coordinator) Supersede(oldID, newID int64) error {
	return c.store.WithTx(func(tx *sql.Tx) error {
		var superseded sql.NullInt64
		err := tx.QueryRow("SELECT superseded_by FROM learnings WHERE id = ?", newID).Scan(&superseded)
		if err == sql.ErrNoRows {
			return fmt.Errorf("learning %d not found", newID)
		}
		if err != nil {
			return fmt.Errorf("check replacement: %w", err)
		}
		if superseded.Valid {
			return fmt.Errorf("learning %d is itself superseded", newID)
		}

		res, err := tx.Exec("UPDATE learnings SET superseded_by = ? WHERE id = ?", newID, oldID)
		if err != nil {
			return fmt.Errorf("supersede learning: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("learning %d not found", oldID)
		}
		return nil
	})
}

// AddLearning persists a learning that did not come from a ceremony
// (manual indexing). Ceremony-sourced learnings ride the ceremony's
// transaction instead.
func (c *Coordinator) AddLearning(l models.Learning) (models.Learning, error) {
	if l.IndexedAt.IsZero() {
		l.IndexedAt = c.now()
	}
	err := c.store.WithTx(func(tx *sql.Tx) error {
		id, err := execInsertLearning(tx, l)
		if err != nil {
			return err
		}
		l.ID = id
		return nil
	})
	if err != nil {
		return models.Learning{}, err
	}
	c.logger.Info("learning indexed", "id", l.ID, "category", string(l.Category))
	return l, nil
}

// insertLearning writes a ceremony-sourced learning inside the
// ceremony's transaction.
func insertLearning(tx *sql.Tx, l models.Learning, ceremonyID int64, indexedAt time.Time) error {
	if !l.Category.Valid() {
		return fmt.Errorf("invalid learning category %q", l.Category)
	}
	l.SourceCeremonyID = ceremonyID
	if l.IndexedAt.IsZero() {
		l.IndexedAt = indexedAt
	}
	_, err := execInsertLearning(tx, l)
	return err
}

func execInsertLearning(tx *sql.Tx, l models.Learning) (int64, error) {
	if l.BaseRelevance <= 0 {
		l.BaseRelevance = 0.5
	}
	if l.ConfidenceScore <= 0 {
		l.ConfidenceScore = models.ConfidenceScore(0, 0)
	}
	var source any
	if l.SourceCeremonyID > 0 {
		source = l.SourceCeremonyID
	}
	res, err := tx.Exec(`
		INSERT INTO learnings (category, text, tags, scale_level, project_type, base_relevance, application_count, success_rate, confidence_score, indexed_at, source_ceremony_id)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0.0, ?, ?, ?)`,
		string(l.Category), l.Text, strings.Join(l.Tags, ","), int(l.ScaleLevel),
		l.ProjectType, l.BaseRelevance, l.ConfidenceScore,
		store.FormatTime(l.IndexedAt), source)
	if err != nil {
		return 0, fmt.Errorf("insert learning: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("learning id: %w", err)
	}
	return id, nil
}

const learningSelect = `
	SELECT id, category, text, tags, scale_level, project_type, base_relevance, application_count, success_rate, confidence_score, indexed_at, superseded_by, source_ceremony_id
	FROM learnings`

func scanLearning(s scanner) (*models.Learning, error) {
	var l models.Learning
	var category, indexedAt string
	var tags, projectType sql.NullString
	var scale int
	var supersededBy, sourceCeremony sql.NullInt64

	err := s.Scan(&l.ID, &category, &l.Text, &tags, &scale, &projectType,
		&l.BaseRelevance, &l.ApplicationCount, &l.SuccessRate, &l.ConfidenceScore,
		&indexedAt, &supersededBy, &sourceCeremony)
	if err != nil {
		return nil, err
	}

	l.Category = models.LearningCategory(category)
	l.ScaleLevel = models.ScaleLevel(scale)
	l.ProjectType = projectType.String
	l.SupersededBy = supersededBy.Int64
	l.SourceCeremonyID = sourceCeremony.Int64
	if tags.Valid && tags.String != "" {
		l.Tags = strings.Split(tags.String, ",")
	}
	if l.IndexedAt, err = store.ParseTime(indexedAt); err != nil {
		return nil, fmt.Errorf("parse indexed_at: %w", err)
	}
	return &l, nil
}
