package botkit

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher triggers a loader reload when watched paths change. Change bursts
// are debounced per path so an editor save storm causes one reload, not ten.
type Watcher struct {
	loader   *Loader
	fsw      *fsnotify.Watcher
	log      zerolog.Logger
	debounce time.Duration
}

// NewWatcher watches paths (files or directories, non-recursive) for the
// loader.
func NewWatcher(loader *Loader, log zerolog.Logger, paths ...string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := fsw.Add(p); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return &Watcher{
		loader:   loader,
		fsw:      fsw,
		log:      log,
		debounce: 250 * time.Millisecond,
	}, nil
}

// Run processes change events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	timers := make(map[string]*time.Timer)
	var mu sync.Mutex

	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
		_ = w.fsw.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
				continue
			}
			mu.Lock()
			if t, ok := timers[event.Name]; ok {
				t.Reset(w.debounce)
				mu.Unlock()
				continue
			}
			timers[event.Name] = time.AfterFunc(w.debounce, func() {
				mu.Lock()
				delete(timers, event.Name)
				mu.Unlock()

				w.log.Info().Str("path", event.Name).Msg("change detected, reloading")
				if err := w.loader.Reload(ctx); err != nil {
					w.log.Error().Err(err).Msg("reload failed")
				}
			})
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}
