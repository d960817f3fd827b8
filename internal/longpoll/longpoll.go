// Package longpoll blocks a caller until a filesystem condition holds or
// a deadline passes. Polling is the correctness mechanism: sibling OS
// processes write the same tree, and only re-reading the filesystem
// observes them portably. An fsnotify watcher on the awaited directory
// wakes the poller early when the kernel cooperates; if the watch cannot
// be established the waiter degrades silently to pure polling.
package longpoll

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultInterval matches the engine-wide 2-second poll cadence.
const DefaultInterval = 2 * time.Second

// Options tunes one wait.
type Options struct {
	// Interval between condition polls. Zero means DefaultInterval.
	Interval time.Duration
	// Timeout bounds the whole wait.
	Timeout time.Duration
	// WatchDir, when non-empty, is watched for events that trigger an
	// immediate re-poll. The directory must exist.
	WatchDir string
}

// Wait polls cond until it returns true, the timeout passes, or ctx is
// cancelled. Returns (true, nil) when satisfied, (false, nil) on timeout
// (a structured retry-allowed outcome, not an error), and (false, err)
// only on cancellation or a condition error.
func Wait(ctx context.Context, opts Options, cond func() (bool, error)) (bool, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	ok, err := cond()
	if err != nil || ok {
		return ok, err
	}

	var events chan fsnotify.Event
	if opts.WatchDir != "" {
		watcher, werr := fsnotify.NewWatcher()
		if werr == nil {
			if werr = watcher.Add(opts.WatchDir); werr != nil {
				watcher.Close()
				watcher = nil
			}
		}
		if werr != nil {
			slog.Debug("longpoll.watch_unavailable", "dir", opts.WatchDir, "error", werr)
		}
		if watcher != nil {
			defer watcher.Close()
			events = make(chan fsnotify.Event, 1)
			go forwardEvents(watcher, events)
		}
	}

	deadline := time.NewTimer(opts.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
		case <-events:
		}

		ok, err := cond()
		if err != nil || ok {
			return ok, err
		}
	}
}

// forwardEvents squashes the watcher streams into a single 1-buffered
// wake channel; the waiter only needs "something changed".
func forwardEvents(w *fsnotify.Watcher, out chan<- fsnotify.Event) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			select {
			case out <- ev:
			default:
			}
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}
