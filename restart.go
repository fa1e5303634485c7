package procmon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RestartWatcher polls running handles for an externally raised restart request and
// restarts the supervisor on the first one it sees. It is single-shot.
type RestartWatcher struct {
	sup      *Supervisor
	interval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newRestartWatcher(s *Supervisor, interval time.Duration) *RestartWatcher {
	return &RestartWatcher{
		sup:      s,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Stop ends polling. Safe to call at any time and more than once.
func (w *RestartWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Done is closed when Run has returned.
func (w *RestartWatcher) Done() <-chan struct{} {
	return w.done
}

func (w *RestartWatcher) Run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
		}
		for _, h := range w.sup.runningHandles() {
			select {
			case <-w.stop:
				return
			default:
			}
			if !w.requested(ctx, h) {
				continue
			}
			w.sup.logger.Info("Supervisor: restart requested", slog.String("key", h.Key))
			w.Stop()
			go w.sup.restartOrStop()
			return
		}
	}
}

func (w *RestartWatcher) requested(ctx context.Context, h *Handle) bool {
	if h.RestartRequested() {
		return true
	}
	if h.Terminated() {
		return false
	}
	q, ok := w.sup.channel.(RestartQuerier)
	if !ok {
		return false
	}
	var restart bool
	err := callBounded(ctx, w.interval, func(ctx context.Context) error {
		r, err := q.RestartRequested(ctx, h)
		restart = r
		return err
	})
	return err == nil && restart
}
