//go:build unix

package procmon

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"

	"github.com/oarkflow/procmon/agent"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	assert.NilError(t, ln.Close())
	return port
}

func launchSleeper(t *testing.T) (*Command, *Handle) {
	t.Helper()
	c := shellCommand(t, "worker", "sleep 30")
	h, err := NewExecLauncher(Timeouts{}, 0, "").Launch(context.Background(), c)
	assert.NilError(t, err)
	t.Cleanup(func() {
		h.HardKill()
		<-h.Done()
		_ = h.Retire()
	})
	return c, h
}

func TestHTTPChannel_TalksToAgent(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := agent.New(agent.Args{Key: "worker", ControlAddr: ln.Addr().String(), NoAutokill: true})
	go func() { _ = a.ServeListener(ctx, ln) }()

	c, h := launchSleeper(t)
	ch := NewHTTPChannel(port, Timeouts{ConnectRetry: 10 * time.Millisecond})

	err = ch.Ping(context.Background(), h)
	var chErr *ChannelError
	assert.Assert(t, errors.As(err, &chErr), "ping before connect must fail")

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer connectCancel()
	assert.NilError(t, ch.Connect(connectCtx, c, h))
	assert.NilError(t, ch.Ping(context.Background(), h))

	ready, err := ch.IsReady(context.Background(), h)
	assert.NilError(t, err)
	assert.Assert(t, !ready)
	a.MarkReady()
	ready, err = ch.IsReady(context.Background(), h)
	assert.NilError(t, err)
	assert.Assert(t, ready)

	restart, err := ch.RestartRequested(context.Background(), h)
	assert.NilError(t, err)
	assert.Assert(t, !restart)
	a.RequestRestart()
	restart, err = ch.RestartRequested(context.Background(), h)
	assert.NilError(t, err)
	assert.Assert(t, restart)

	// The agent accepts the request but the sleeping process never exits on its own.
	termCtx, termCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer termCancel()
	err = ch.Terminate(termCtx, h)
	assert.Assert(t, errors.As(err, &chErr))
	assert.Assert(t, errors.Is(err, context.DeadlineExceeded))
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("agent did not receive the terminate request")
	}
	assert.Assert(t, errors.Is(a.Reason(), agent.ErrTerminateRequested))

	err = ch.Ping(context.Background(), h)
	assert.Assert(t, errors.As(err, &chErr), "terminate must unbind the handle")
}

func TestHTTPChannel_ConnectGivesUpOnDeadProcess(t *testing.T) {
	c := shellCommand(t, "worker", "exit 0")
	h, err := NewExecLauncher(Timeouts{}, 0, "").Launch(context.Background(), c)
	assert.NilError(t, err)
	waitDone(t, h)
	defer h.Retire()

	ch := NewHTTPChannel(freePort(t), Timeouts{ConnectRetry: 10 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	began := time.Now()
	err = ch.Connect(ctx, c, h)
	var chErr *ChannelError
	assert.Assert(t, errors.As(err, &chErr))
	assert.Equal(t, chErr.Op, "connect")
	assert.Assert(t, errors.Is(err, ErrProcessDead))
	assert.Assert(t, time.Since(began) < time.Second)
}

func TestHTTPChannel_ConnectHonoursDeadline(t *testing.T) {
	c, h := launchSleeper(t)
	ch := NewHTTPChannel(freePort(t), Timeouts{ConnectRetry: 10 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := ch.Connect(ctx, c, h)
	assert.Assert(t, errors.Is(err, context.DeadlineExceeded))
	assert.Assert(t, h.Alive())
}

func TestHTTPChannel_ForgetsExitedProcess(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := agent.New(agent.Args{Key: "worker", ControlAddr: ln.Addr().String(), NoAutokill: true})
	go func() { _ = a.ServeListener(ctx, ln) }()

	c, h := launchSleeper(t)
	ch := NewHTTPChannel(ln.Addr().(*net.TCPAddr).Port, Timeouts{ConnectRetry: 10 * time.Millisecond})
	connectCtx, connectCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer connectCancel()
	assert.NilError(t, ch.Connect(connectCtx, c, h))

	assert.Assert(t, h.HardKill())
	waitDone(t, h)
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		ch.mu.RLock()
		n := len(ch.bindings)
		ch.mu.RUnlock()
		if n != 0 {
			return poll.Continue("%d bindings left", n)
		}
		return poll.Success()
	}, poll.WithTimeout(5*time.Second), poll.WithDelay(10*time.Millisecond))

	// The agent is still up, so only a dropped binding makes this fail.
	var chErr *ChannelError
	assert.Assert(t, errors.As(ch.Ping(context.Background(), h), &chErr))
}
