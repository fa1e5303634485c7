package procmon

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// coordinate terminates handles in reverse startup order. Each child gets a graceful
// terminate request bounded by the Terminate timeout and is hard-killed afterwards no
// matter how the request went. One stuck child never holds up the others beyond its
// own timeout.
func (s *Supervisor) coordinate(handles []*Handle) {
	for i := len(handles) - 1; i >= 0; i-- {
		h := handles[i]
		if h.Terminated() {
			continue
		}
		h.DisablePing()

		began := time.Now()
		err := callBounded(context.Background(), s.timeouts.Terminate, func(ctx context.Context) error {
			return s.channel.Terminate(ctx, h)
		})
		logger := s.logger.With(slog.String("key", h.Key), slog.Int("pid", h.PID()))
		switch {
		case err == nil:
			logger.Info("Supervisor: child terminated gracefully", slog.Duration("took", time.Since(began)))
		case errors.Is(err, context.DeadlineExceeded):
			logger.Warn("Supervisor: child did not terminate in time; killing", slog.Duration("timeout", s.timeouts.Terminate))
			forcedKills.WithLabelValues("timeout").Inc()
		default:
			logger.Warn("Supervisor: graceful termination failed; killing", slog.String("err", err.Error()))
			forcedKills.WithLabelValues("error").Inc()
		}
		if h.HardKill() {
			logger.Info("Supervisor: child killed")
		}
	}
}
