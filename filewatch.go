package procmon

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDelay = 500 * time.Millisecond

// fileWatcher raises a restart request on a child when one of its watched files is
// written, created or renamed. Events are debounced per child.
type fileWatcher struct {
	sup     *Supervisor
	watcher *fsnotify.Watcher
	byPath  map[string][]string

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func startFileWatcher(ctx context.Context, s *Supervisor, files map[string][]string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	fw := &fileWatcher{
		sup:     s,
		watcher: w,
		byPath:  make(map[string][]string),
		pending: make(map[string]*time.Timer),
	}
	dirs := make(map[string]struct{})
	for key, paths := range files {
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				_ = w.Close()
				return err
			}
			fw.byPath[abs] = append(fw.byPath[abs], key)
			dirs[filepath.Dir(abs)] = struct{}{}
		}
	}
	// Watch the containing directories so editors that replace files are still seen.
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return err
		}
		s.logger.Info("Supervisor: watching directory", slog.String("dir", dir))
	}
	go fw.run(ctx)
	return nil
}

func (fw *fileWatcher) run(ctx context.Context) {
	defer fw.watcher.Close()
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			for _, key := range fw.byPath[filepath.Clean(event.Name)] {
				fw.sup.logger.Info("Supervisor: file event detected", slog.String("file", event.Name), slog.String("op", event.Op.String()), slog.String("key", key))
				fw.debounce(key)
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.sup.logger.Error("Supervisor: watcher error", slog.String("err", err.Error()))
		case <-ctx.Done():
			fw.mu.Lock()
			for _, t := range fw.pending {
				t.Stop()
			}
			fw.mu.Unlock()
			return
		}
	}
}

func (fw *fileWatcher) debounce(key string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if t, ok := fw.pending[key]; ok {
		t.Reset(debounceDelay)
		return
	}
	fw.pending[key] = time.AfterFunc(debounceDelay, func() {
		fw.mu.Lock()
		delete(fw.pending, key)
		fw.mu.Unlock()
		for _, h := range fw.sup.runningHandles() {
			if h.Key == key {
				h.RequestRestart()
			}
		}
	})
}
