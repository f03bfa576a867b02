package credentials

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Change reports what happened to the credential file.
type Change int

const (
	Written Change = iota
	Removed
)

func (c Change) String() string {
	if c == Removed {
		return "removed"
	}
	return "written"
}

// Watch calls fn whenever the credential file is written or removed by
// anyone, this process included. The parent directory is watched so that
// rename-into-place is seen. Watch blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, log zerolog.Logger, fn func(Change)) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Debug().Str("dir", dir).Msg("watching credential directory")

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				fn(Written)
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				fn(Removed)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("credential watcher error")
		}
	}
}
