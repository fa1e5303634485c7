package procmon

import (
	"context"
	"log/slog"
	"time"
)

// heartbeat pings h every PingInterval, starting immediately, for as long as the
// process is alive and pinging is enabled. Failed pings are only logged: the liveness
// watcher decides about death.
func (s *Supervisor) heartbeat(ctx context.Context, h *Handle) {
	ticker := time.NewTicker(s.timeouts.PingInterval)
	defer ticker.Stop()
	for {
		if !h.Alive() || !h.PingEnabled() {
			return
		}
		pingCtx, cancel := context.WithTimeout(ctx, s.timeouts.PingInterval)
		if err := s.channel.Ping(pingCtx, h); err != nil {
			s.logger.Debug("Supervisor: ping failed", slog.String("key", h.Key), slog.String("err", err.Error()))
		}
		cancel()
		select {
		case <-ctx.Done():
			return
		case <-h.Done():
			return
		case <-ticker.C:
		}
	}
}
