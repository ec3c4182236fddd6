package reload

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/timzifer/voltseq/config"
)

type fileState struct {
	modTime time.Time
	size    int64
}

// Watcher polls the files a setup was loaded from and reports modifications.
type Watcher struct {
	mu    sync.Mutex
	files map[string]fileState
}

// NewWatcher snapshots the source files of cfg plus root when root is a file.
func NewWatcher(root string, cfg *config.Config) (*Watcher, error) {
	watcher := &Watcher{}
	if err := watcher.Update(root, cfg); err != nil {
		return nil, err
	}
	return watcher, nil
}

// Update replaces the snapshot. Missing files and directories are skipped.
func (w *Watcher) Update(root string, cfg *config.Config) error {
	if w == nil {
		return nil
	}
	paths := config.SourceFiles(cfg)
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			paths = append(paths, abs)
		}
	}
	states := make(map[string]fileState, len(paths))
	for _, path := range uniquePaths(paths) {
		if state, ok := stat(path); ok {
			states[path] = state
		}
	}
	w.mu.Lock()
	w.files = states
	w.mu.Unlock()
	return nil
}

// Files returns the tracked paths in sorted order.
func (w *Watcher) Files() []string {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.files))
	for path := range w.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Check reports the files that changed or vanished since the last snapshot.
func (w *Watcher) Check() ([]string, error) {
	if w == nil {
		return nil, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := make([]string, 0)
	for path, state := range w.files {
		current, ok := stat(path)
		if !ok || current.modTime.After(state.modTime) || current.size != state.size {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

// Run polls every interval until ctx is done and calls onChange with the
// modified files. The callback is expected to reload the setup and call
// Update; an error from it stops the loop.
func (w *Watcher) Run(ctx context.Context, interval time.Duration, onChange func([]string) error) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			changed, err := w.Check()
			if err != nil {
				return err
			}
			if len(changed) == 0 {
				continue
			}
			if err := onChange(changed); err != nil {
				return err
			}
		}
	}
}

func stat(path string) (fileState, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fileState{}, false
	}
	return fileState{modTime: info.ModTime(), size: info.Size()}, true
}

func uniquePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	result := make([]string, 0, len(paths))
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		result = append(result, path)
	}
	return result
}
