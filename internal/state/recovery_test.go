package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gao-dev/gao-dev/internal/gitops"
	"github.com/gao-dev/gao-dev/pkg/models"
)

func TestRecover_DeletesCeremoniesWithoutBackingCommit(t *testing.T) {
	c := newTestCoordinator(t)
	mustCreateEpic(t, c, "search", models.ScaleFeature, 4)

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	kept, err := c.RecordCeremony(
		testCeremony(1, models.CeremonyStandup, base, models.OutcomeSuccess), nil, nil, nil)
	if err != nil {
		t.Fatalf("RecordCeremony: %v", err)
	}
	orphan, err := c.RecordCeremony(
		testCeremony(1, models.CeremonyRetrospective, base.Add(time.Hour), models.OutcomeSuccess),
		[]models.ActionItem{{Priority: models.PriorityHigh, Description: "follow up"}},
		[]models.Learning{{Category: models.CategoryQuality, Text: "x", ScaleLevel: models.ScaleFeature}},
		nil)
	if err != nil {
		t.Fatalf("RecordCeremony: %v", err)
	}

	// Simulate an external reset that discarded the second commit.
	if _, err := c.store.Exec(
		"UPDATE ceremonies SET commit_sha = 'deadbeef' WHERE id = ?", orphan.ID); err != nil {
		t.Fatalf("rewrite sha: %v", err)
	}

	removed, err := c.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if removed != 1 {
		t.Errorf("Recover removed %d ceremonies, want 1", removed)
	}

	if got, _ := c.GetCeremony(orphan.ID); got != nil {
		t.Error("orphaned ceremony row survived recovery")
	}
	if got, _ := c.GetCeremony(kept.ID); got == nil {
		t.Error("backed ceremony row was removed")
	}
	open, _ := c.ListOpenActionItems(1)
	if len(open) != 0 {
		t.Errorf("got %d action items from the orphaned ceremony, want 0", len(open))
	}
	active, _ := c.ActiveLearnings()
	if len(active) != 0 {
		t.Errorf("got %d learnings from the orphaned ceremony, want 0", len(active))
	}

	// A clean database recovers nothing.
	removed, err = c.Recover()
	if err != nil {
		t.Fatalf("second Recover: %v", err)
	}
	if removed != 0 {
		t.Errorf("second Recover removed %d ceremonies, want 0", removed)
	}
}

func TestRecover_DropsOrphanCommitFromJournal(t *testing.T) {
	c := newTestCoordinator(t)
	mustCreateEpic(t, c, "search", models.ScaleFeature, 4)

	prev, err := c.git.HeadSHA()
	if err != nil {
		t.Fatalf("HeadSHA: %v", err)
	}

	// Simulate a crash between the git commit and the SQL commit: the
	// journal and the commit exist, the database row does not.
	msg, err := gitops.NewCommitMessage("docs", "search", "record standup notes")
	if err != nil {
		t.Fatalf("NewCommitMessage: %v", err)
	}
	if err := c.writeJournal(msg, prev); err != nil {
		t.Fatalf("writeJournal: %v", err)
	}
	if _, err := c.git.Commit(msg); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, err := c.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	head, err := c.git.HeadSHA()
	if err != nil {
		t.Fatalf("HeadSHA after recovery: %v", err)
	}
	if head != prev {
		t.Errorf("HEAD = %s, want orphaned commit dropped back to %s", head, prev)
	}
	if _, err := os.Stat(c.journalPath()); !os.IsNotExist(err) {
		t.Error("journal survived recovery")
	}
}

func TestRecover_IgnoresStaleJournal(t *testing.T) {
	c := newTestCoordinator(t)
	mustCreateEpic(t, c, "search", models.ScaleFeature, 4)

	// A completed mutation clears its journal.
	if _, err := os.Stat(c.journalPath()); !os.IsNotExist(err) {
		t.Fatal("journal left behind by a successful mutation")
	}

	// A journal written before a commit that never happened is noise:
	// HEAD still matches the recorded parent.
	head, err := c.git.HeadSHA()
	if err != nil {
		t.Fatalf("HeadSHA: %v", err)
	}
	msg, err := gitops.NewCommitMessage("docs", "search", "record standup notes")
	if err != nil {
		t.Fatalf("NewCommitMessage: %v", err)
	}
	if err := c.writeJournal(msg, head); err != nil {
		t.Fatalf("writeJournal: %v", err)
	}

	if _, err := c.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	after, err := c.git.HeadSHA()
	if err != nil {
		t.Fatalf("HeadSHA after recovery: %v", err)
	}
	if after != head {
		t.Errorf("HEAD = %s, want unchanged %s", after, head)
	}
	if _, err := os.Stat(c.journalPath()); !os.IsNotExist(err) {
		t.Error("stale journal was not removed")
	}
}

func TestAcquireLock_Exclusive(t *testing.T) {
	root := t.TempDir()

	lock, err := AcquireLock(root)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	_, err = AcquireLock(root)
	if err == nil {
		t.Fatal("second AcquireLock succeeded while lock held")
	}
	var ce *models.CoreError
	if !errors.As(err, &ce) || ce.Code != models.CodeLockHeld {
		t.Errorf("error = %v, want code %s", err, models.CodeLockHeld)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	relock, err := AcquireLock(root)
	if err != nil {
		t.Fatalf("AcquireLock after release: %v", err)
	}
	relock.Release()
}

func TestAcquireLock_ReclaimsDeadHolder(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, LockFile)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	host, _ := os.Hostname()
	stale := `{"pid": 999999999, "host": "` + host + `", "acquired_at": "2026-01-01T00:00:00Z"}`
	if err := os.WriteFile(path, []byte(stale), 0644); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}

	lock, err := AcquireLock(root)
	if err != nil {
		t.Fatalf("AcquireLock over dead holder: %v", err)
	}
	lock.Release()
}

func TestAcquireLock_ReclaimsCorruptFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, LockFile)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("not json"), 0644); err != nil {
		t.Fatalf("write corrupt lock: %v", err)
	}

	lock, err := AcquireLock(root)
	if err != nil {
		t.Fatalf("AcquireLock over corrupt file: %v", err)
	}
	lock.Release()
}
