package store

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gao-dev/gao-dev/pkg/models"
)

// Checkpointer marks the repository before a migration so a failed
// upgrade can be rolled back to a known-good point. The git gateway
// implements it; tests pass nil.
type Checkpointer interface {
	// Tag marks HEAD with a checkpoint name.
	Tag(name string) error
	// ResetHard moves the work tree back to the given ref.
	ResetHard(ref string) error
}

// migration is one schema upgrade, applied in four phases inside a
// single transaction: DDL, data backfill, index creation, validation.
// Empty phases are skipped.
type migration struct {
	version  int
	name     string
	ddl      string
	backfill string
	indexes  string
	validate string
}

var migrations = []migration{
	{
		version:  1,
		name:     "core entities",
		ddl:      migrationV1Entities,
		indexes:  migrationV1Indexes,
		validate: "SELECT COUNT(*) FROM epics",
	},
	{
		version:  2,
		name:     "learnings",
		ddl:      migrationV2Learnings,
		indexes:  migrationV2Indexes,
		validate: "SELECT COUNT(*) FROM learnings",
	},
	{
		version:  3,
		name:     "safety and plan runs",
		ddl:      migrationV3Safety,
		backfill: migrationV3Backfill,
		indexes:  migrationV3Indexes,
		validate: "SELECT COUNT(*) FROM safety_state",
	},
}

// SchemaVersion is the schema version this binary expects.
const SchemaVersion = 3

// Version returns the current schema version of the database,
// 0 if no migration has been applied.
func (s *Store) Version() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versionLocked()
}

func (s *Store) versionLocked() (int, error) {
	if _, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return 0, fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}

// Migrate applies all pending migrations. Before the first pending
// migration it copies the database file into the backup directory and,
// when cp is non-nil, tags the repository. A failed phase restores the
// backup, resets the work tree to the checkpoint tag, and returns a
// migration error. A database newer than this binary is refused.
func (s *Store) Migrate(cp Checkpointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.versionLocked()
	if err != nil {
		return err
	}

	if current > SchemaVersion {
		return &models.CoreError{
			Kind: models.KindPrecondition,
			Code: models.CodeSchemaMismatch,
			Msg:  fmt.Sprintf("database schema v%d is newer than supported v%d", current, SchemaVersion),
		}
	}
	if current == SchemaVersion {
		return nil
	}

	backup, err := s.backupLocked()
	if err != nil {
		return fmt.Errorf("backup before migration: %w", err)
	}
	checkpoint := fmt.Sprintf("gaodev-migration-v%d", current)
	if cp != nil {
		if err := cp.Tag(checkpoint); err != nil {
			return fmt.Errorf("tag pre-migration checkpoint: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyLocked(m); err != nil {
			if restoreErr := s.restoreLocked(backup); restoreErr != nil {
				return models.NewMigrationError(
					fmt.Sprintf("migration v%d failed and restore failed (%v)", m.version, restoreErr), err)
			}
			if cp != nil {
				if resetErr := cp.ResetHard(checkpoint); resetErr != nil {
					return models.NewMigrationError(
						fmt.Sprintf("migration v%d failed and reset to %s failed (%v)", m.version, checkpoint, resetErr), err)
				}
			}
			return models.NewMigrationError(
				fmt.Sprintf("migration v%d (%s) failed, backup restored", m.version, m.name), err)
		}
	}

	return s.writeVersionFileLocked()
}

func (s *Store) applyLocked(m migration) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	phases := []struct {
		name string
		sql  string
	}{
		{"ddl", m.ddl},
		{"backfill", m.backfill},
		{"indexes", m.indexes},
	}
	for _, p := range phases {
		if p.sql == "" {
			continue
		}
		if _, err := tx.Exec(p.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("%s phase: %w", p.name, err)
		}
	}

	if m.validate != "" {
		var n int
		if err := tx.QueryRow(m.validate).Scan(&n); err != nil {
			tx.Rollback()
			return fmt.Errorf("validate phase: %w", err)
		}
	}

	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
		tx.Rollback()
		return fmt.Errorf("record version: %w", err)
	}

	return tx.Commit()
}

// backupLocked copies the database file into the backup directory and
// returns the backup path. WAL content is flushed into the main file
// first so the copy is self-contained.
func (s *Store) backupLocked() (string, error) {
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return "", fmt.Errorf("checkpoint wal: %w", err)
	}

	dir := filepath.Join(filepath.Dir(s.path), "backups")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	name := fmt.Sprintf("state-%s.db", time.Now().UTC().Format("20060102-150405"))
	dst := filepath.Join(dir, name)
	if err := copyFile(s.path, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// restoreLocked replaces the live database with the backup. The
// connection is reopened afterwards because the file underneath it
// changed.
func (s *Store) restoreLocked(backup string) error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close before restore: %w", err)
	}
	os.Remove(s.path + "-wal")
	os.Remove(s.path + "-shm")
	if err := copyFile(backup, s.path); err != nil {
		return err
	}

	conn, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("reopen after restore: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	s.conn = conn
	return nil
}

// writeVersionFileLocked records the schema version next to the
// database so operators can see it without opening SQLite.
func (s *Store) writeVersionFileLocked() error {
	path := filepath.Join(filepath.Dir(s.path), "version.txt")
	data := fmt.Sprintf("%d\n", SchemaVersion)
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		return fmt.Errorf("write version file: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return out.Sync()
}

const migrationV1Entities = `
CREATE TABLE IF NOT EXISTS epics (
	epic_num INTEGER PRIMARY KEY,
	feature_name TEXT NOT NULL,
	scale_level INTEGER NOT NULL DEFAULT 2,
	status TEXT NOT NULL DEFAULT 'planned',
	total_stories INTEGER NOT NULL DEFAULT 0,
	stories_completed INTEGER NOT NULL DEFAULT 0,
	project_type TEXT,
	created_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS stories (
	epic_num INTEGER NOT NULL REFERENCES epics(epic_num),
	story_num INTEGER NOT NULL,
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'draft',
	cycle_time_seconds INTEGER NOT NULL DEFAULT 0,
	rework_count INTEGER NOT NULL DEFAULT 0,
	quality_gates TEXT NOT NULL DEFAULT 'unknown',
	created_at DATETIME NOT NULL,
	started_at DATETIME,
	completed_at DATETIME,
	PRIMARY KEY (epic_num, story_num)
);

CREATE TABLE IF NOT EXISTS ceremonies (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	epic_num INTEGER NOT NULL REFERENCES epics(epic_num),
	story_num INTEGER,
	type TEXT NOT NULL,
	phase TEXT,
	held_at DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	participants TEXT,
	transcript TEXT,
	summary TEXT,
	outcome TEXT NOT NULL,
	commit_sha TEXT,
	mid_epic INTEGER NOT NULL DEFAULT 0,
	idempotency_key TEXT UNIQUE
);

CREATE TABLE IF NOT EXISTS action_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ceremony_id INTEGER NOT NULL REFERENCES ceremonies(id),
	priority TEXT NOT NULL,
	description TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'open',
	auto_promote INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	closed_at DATETIME
);
`

const migrationV1Indexes = `
CREATE INDEX IF NOT EXISTS idx_stories_status ON stories(status);
CREATE INDEX IF NOT EXISTS idx_ceremonies_epic ON ceremonies(epic_num, type);
CREATE INDEX IF NOT EXISTS idx_action_items_status ON action_items(status);
CREATE INDEX IF NOT EXISTS idx_action_items_ceremony ON action_items(ceremony_id);
`

const migrationV2Learnings = `
CREATE TABLE IF NOT EXISTS learnings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	category TEXT NOT NULL,
	text TEXT NOT NULL,
	tags TEXT,
	scale_level INTEGER NOT NULL DEFAULT 2,
	project_type TEXT,
	base_relevance REAL NOT NULL DEFAULT 0.5,
	application_count INTEGER NOT NULL DEFAULT 0,
	success_rate REAL NOT NULL DEFAULT 0.0,
	confidence_score REAL NOT NULL DEFAULT 0.5,
	indexed_at DATETIME NOT NULL,
	superseded_by INTEGER REFERENCES learnings(id),
	source_ceremony_id INTEGER REFERENCES ceremonies(id)
);

CREATE TABLE IF NOT EXISTS learning_applications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	learning_id INTEGER NOT NULL REFERENCES learnings(id),
	epic_num INTEGER NOT NULL,
	story_num INTEGER,
	outcome TEXT NOT NULL,
	applied_at DATETIME NOT NULL,
	context TEXT
);
`

const migrationV2Indexes = `
CREATE INDEX IF NOT EXISTS idx_learnings_category ON learnings(category);
CREATE INDEX IF NOT EXISTS idx_learnings_superseded ON learnings(superseded_by);
CREATE INDEX IF NOT EXISTS idx_learning_applications_learning ON learning_applications(learning_id);
`

const migrationV3Safety = `
CREATE TABLE IF NOT EXISTS safety_state (
	epic_num INTEGER NOT NULL REFERENCES epics(epic_num),
	type TEXT NOT NULL,
	last_held_at DATETIME,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	circuit TEXT NOT NULL DEFAULT 'closed',
	total_ceremonies INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (epic_num, type)
);

CREATE TABLE IF NOT EXISTS plan_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	epic_num INTEGER NOT NULL,
	status TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	steps_total INTEGER NOT NULL DEFAULT 0,
	steps_done INTEGER NOT NULL DEFAULT 0,
	ceremonies_held INTEGER NOT NULL DEFAULT 0,
	ceremonies_skipped INTEGER NOT NULL DEFAULT 0
);
`

// Existing epics get a safety row per ceremony type so the guard never
// has to special-case missing rows.
const migrationV3Backfill = `
INSERT OR IGNORE INTO safety_state (epic_num, type)
SELECT e.epic_num, t.type
FROM epics e
JOIN (SELECT 'planning' AS type UNION SELECT 'standup' UNION SELECT 'retrospective') t;
`

const migrationV3Indexes = `
CREATE INDEX IF NOT EXISTS idx_plan_runs_epic ON plan_runs(epic_num);
`
