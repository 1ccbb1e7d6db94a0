package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gao-dev/gao-dev/pkg/models"
)

// LockFile is the advisory lock path relative to the project root.
// Exactly one orchestrator may hold it per project tree.
const LockFile = ".gao-dev/lock"

// Lock is a held project lock. Release removes the lock file.
type Lock struct {
	path string
	info lockInfo
}

type lockInfo struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// AcquireLock takes the project lock. A lock left by a dead process on
// the same host is reclaimed; a live holder (or one on another host,
// where liveness cannot be checked) refuses with a precondition error.
func AcquireLock(root string) (*Lock, error) {
	path := filepath.Join(root, LockFile)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	info := lockInfo{PID: os.Getpid(), Host: host, AcquiredAt: time.Now().UTC()}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			enc := json.NewEncoder(f)
			if werr := enc.Encode(info); werr != nil {
				f.Close()
				os.Remove(path)
				return nil, fmt.Errorf("write lock file: %w", werr)
			}
			if cerr := f.Close(); cerr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("close lock file: %w", cerr)
			}
			return &Lock{path: path, info: info}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		holder, rerr := readLockInfo(path)
		if rerr != nil {
			// Unreadable lock files are treated as stale.
			os.Remove(path)
			continue
		}
		if holder.Host == host && !isProcessAlive(holder.PID) {
			os.Remove(path)
			continue
		}
		return nil, &models.CoreError{
			Kind: models.KindPrecondition,
			Code: models.CodeLockHeld,
			Msg:  fmt.Sprintf("project locked by pid %d on %s since %s", holder.PID, holder.Host, holder.AcquiredAt.Format(time.RFC3339)),
		}
	}
	return nil, models.NewPreconditionError(models.CodeLockHeld, "could not acquire project lock")
}

// Release removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func readLockInfo(path string) (lockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lockInfo{}, err
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return lockInfo{}, err
	}
	if info.PID <= 0 {
		return lockInfo{}, fmt.Errorf("lock file missing pid")
	}
	return info, nil
}

// isProcessAlive probes a pid with signal 0.
func isProcessAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
