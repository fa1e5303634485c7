package procmon

import "time"

const (
	defaultConnectTimeout   = 30 * time.Second
	defaultReadyTimeout     = 5 * time.Second
	defaultTerminateTimeout = 5 * time.Second
	defaultPingTimeout      = 10 * time.Second
	defaultPingInterval     = 2 * time.Second
	defaultConnectRetry     = 250 * time.Millisecond
	defaultReadyPoll        = 100 * time.Millisecond
	defaultRestartPoll      = 1 * time.Second
)

// Timeouts is the read-only set of durations shared by every supervisor component.
// PingTimeout, PingInterval and Terminate are also handed to each child so that it can
// police itself when it loses contact with the supervisor.
type Timeouts struct {
	Connect      time.Duration
	Ready        time.Duration
	Terminate    time.Duration
	PingTimeout  time.Duration
	PingInterval time.Duration
	ConnectRetry time.Duration
	ReadyPoll    time.Duration
	RestartPoll  time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect:      defaultConnectTimeout,
		Ready:        defaultReadyTimeout,
		Terminate:    defaultTerminateTimeout,
		PingTimeout:  defaultPingTimeout,
		PingInterval: defaultPingInterval,
		ConnectRetry: defaultConnectRetry,
		ReadyPoll:    defaultReadyPoll,
		RestartPoll:  defaultRestartPoll,
	}
}

// withDefaults fills zero fields from DefaultTimeouts.
func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Connect <= 0 {
		t.Connect = d.Connect
	}
	if t.Ready <= 0 {
		t.Ready = d.Ready
	}
	if t.Terminate <= 0 {
		t.Terminate = d.Terminate
	}
	if t.PingTimeout <= 0 {
		t.PingTimeout = d.PingTimeout
	}
	if t.PingInterval <= 0 {
		t.PingInterval = d.PingInterval
	}
	if t.ConnectRetry <= 0 {
		t.ConnectRetry = d.ConnectRetry
	}
	if t.ReadyPoll <= 0 {
		t.ReadyPoll = d.ReadyPoll
	}
	if t.RestartPoll <= 0 {
		t.RestartPoll = d.RestartPoll
	}
	return t
}
