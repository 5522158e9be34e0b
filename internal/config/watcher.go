package config

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/bobmcallan/mcp-openapi/internal/common"
)

// fileState is what the watcher compares between polls.
type fileState struct {
	modTime time.Time
	size    int64
	exists  bool
}

// Watcher polls configuration files and calls OnChange once a change has
// settled, so an editor writing a file in several steps triggers one reload.
type Watcher struct {
	paths    []string
	interval time.Duration
	debounce time.Duration
	logger   *common.Logger
	onChange func(ctx context.Context)

	mu    sync.Mutex
	state map[string]fileState
}

// NewWatcher creates a watcher for paths. debounce defaults to interval.
func NewWatcher(paths []string, interval, debounce time.Duration, logger *common.Logger, onChange func(ctx context.Context)) *Watcher {
	if debounce <= 0 {
		debounce = interval
	}
	w := &Watcher{
		paths:    paths,
		interval: interval,
		debounce: debounce,
		logger:   logger,
		onChange: onChange,
		state:    make(map[string]fileState, len(paths)),
	}
	for _, p := range paths {
		w.state[p] = stat(p)
	}
	return w
}

func stat(path string) fileState {
	info, err := os.Stat(path)
	if err != nil {
		return fileState{}
	}
	return fileState{modTime: info.ModTime(), size: info.Size(), exists: true}
}

// Poll compares every file with its last seen state and reports whether
// any of them changed.
func (w *Watcher) Poll() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := false
	for _, p := range w.paths {
		now := stat(p)
		if now != w.state[p] {
			w.logger.Debug().Str("path", p).Bool("exists", now.exists).Msg("config file changed")
			w.state[p] = now
			changed = true
		}
	}
	return changed
}

// Run polls until ctx is done. A change fires OnChange after no further
// change was seen for the debounce period.
func (w *Watcher) Run(ctx context.Context) {
	if w.interval <= 0 || len(w.paths) == 0 {
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var pendingSince time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if w.Poll() {
				pendingSince = now
				continue
			}
			if !pendingSince.IsZero() && now.Sub(pendingSince) >= w.debounce {
				pendingSince = time.Time{}
				w.logger.Info().Strs("paths", w.paths).Msg("config change detected, reloading")
				w.onChange(ctx)
			}
		}
	}
}
