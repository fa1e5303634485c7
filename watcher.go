package procmon

import (
	"log/slog"
)

// watch is the liveness watcher for h. It blocks on the process exit (the handle's
// single exec.Cmd.Wait) and then brings the whole supervisor down: no child is allowed
// to outlive a sibling.
func (s *Supervisor) watch(h *Handle, done chan struct{}) {
	defer close(done)
	<-h.Done()
	h.markTerminated()
	childExited.WithLabelValues(h.Key).Inc()

	unexpected := s.terminateAsync()
	if unexpected {
		s.logger.Error("Supervisor: child exited, stopping all children",
			slog.String("key", h.Key), slog.Int("pid", h.PID()), slog.Int("exitCode", h.ExitCode()))
	} else {
		s.logger.Info("Supervisor: child exited", slog.String("key", h.Key), slog.Int("exitCode", h.ExitCode()))
	}
	h.HardKill()
	if err := h.Retire(); err != nil {
		s.logger.Warn("Supervisor: retiring child failed", slog.String("key", h.Key), slog.String("err", err.Error()))
	}

	if s.restarting.Load() {
		s.shutdown()
		return
	}
	code := 0
	if unexpected {
		code = 1
	}
	s.stop(code)
}
