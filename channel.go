package procmon

import "context"

//go:generate mockgen -destination ./internal/mock/channel.go -package mock . ControlChannel

// ControlChannel is the out-of-band capability the supervisor uses to talk to a running
// child. Every method honours ctx as its time box and reports failures as
// *ChannelError, never as "not ready yet".
type ControlChannel interface {
	// Connect binds the channel to h. It retries while the process is alive and fails as
	// soon as the process is observed dead or ctx expires.
	Connect(ctx context.Context, cmd *Command, h *Handle) error
	// Ping is a best-effort liveness probe.
	Ping(ctx context.Context, h *Handle) error
	// IsReady reports whether the child signalled application-level readiness.
	IsReady(ctx context.Context, h *Handle) (bool, error)
	// Terminate requests a graceful shutdown and blocks until the child is gone or ctx
	// expires. Escalation is up to the caller.
	Terminate(ctx context.Context, h *Handle) error
}

// RestartQuerier is implemented by channels that can ask a child whether it wants the
// supervisor to restart the batch.
type RestartQuerier interface {
	RestartRequested(ctx context.Context, h *Handle) (bool, error)
}
