package agentrunner

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/gao-dev/gao-dev/pkg/models"
)

// stagingWatcher observes one invocation's staging directory and
// remembers every file the agent writes there. Collect reads the files
// after the agent exits, so partially written content is never picked
// up mid-flight.
type stagingWatcher struct {
	dir     string
	watcher *fsnotify.Watcher

	mu   sync.Mutex
	seen map[string]bool
	errs []error
	done chan struct{}
	once sync.Once
}

func newStagingWatcher(dir string) (*stagingWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch staging dir: %w", err)
	}

	sw := &stagingWatcher{
		dir:     dir,
		watcher: w,
		seen:    make(map[string]bool),
		done:    make(chan struct{}),
	}
	go sw.loop()
	return sw, nil
}

func (sw *stagingWatcher) loop() {
	defer close(sw.done)
	for {
		select {
		case ev, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			sw.record(ev.Name)
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.mu.Lock()
			sw.errs = append(sw.errs, err)
			sw.mu.Unlock()
		}
	}
}

func (sw *stagingWatcher) record(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if info.IsDir() {
		// Agents may nest artifacts; watch new subdirectories too.
		sw.watcher.Add(path)
		return
	}
	sw.seen[path] = true
}

// Collect stops watching and reads every staged file. Paths inside the
// result are relative to the staging dir, which mirrors the repository
// layout.
func (sw *stagingWatcher) Collect() ([]models.Artifact, error) {
	sw.once.Do(func() { sw.watcher.Close() })
	<-sw.done

	// A final sweep catches files written before the watch was in place
	// or coalesced by the platform.
	err := filepath.WalkDir(sw.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		sw.mu.Lock()
		sw.seen[path] = true
		sw.mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sweep staging dir: %w", err)
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	if len(sw.errs) > 0 {
		return nil, fmt.Errorf("staging watch: %w", sw.errs[0])
	}

	var artifacts []models.Artifact
	for path := range sw.seen {
		rel, err := filepath.Rel(sw.dir, path)
		if err != nil {
			return nil, fmt.Errorf("relativize %s: %w", path, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read staged %s: %w", rel, err)
		}
		artifacts = append(artifacts, models.Artifact{Path: filepath.ToSlash(rel), Bytes: data})
	}
	return artifacts, nil
}

// Discard stops watching and removes the staging directory.
func (sw *stagingWatcher) Discard() {
	sw.once.Do(func() { sw.watcher.Close() })
	<-sw.done
	os.RemoveAll(sw.dir)
}
