package procmon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/oarkflow/procmon/agent"
)

// HTTPChannel talks to children running the agent package over loopback HTTP. Each
// child listens on 127.0.0.1:(BasePort+Index).
type HTTPChannel struct {
	BasePort     int
	ConnectRetry time.Duration
	Client       *http.Client

	mu       sync.RWMutex
	bindings map[*Handle]string
}

func NewHTTPChannel(basePort int, timeouts Timeouts) *HTTPChannel {
	t := timeouts.withDefaults()
	return &HTTPChannel{
		BasePort:     basePort,
		ConnectRetry: t.ConnectRetry,
		Client:       &http.Client{},
		bindings:     make(map[*Handle]string),
	}
}

func (c *HTTPChannel) Connect(ctx context.Context, cmd *Command, h *Handle) error {
	base := "http://" + controlAddr(cmd, c.BasePort)
	ticker := time.NewTicker(c.ConnectRetry)
	defer ticker.Stop()
	var lastErr error
	for {
		if !h.Alive() {
			return &ChannelError{Key: h.Key, Op: "connect", Err: errors.Join(ErrProcessDead, lastErr)}
		}
		var resp agent.PingResponse
		lastErr = c.do(ctx, http.MethodGet, base+agent.PathPing, &resp)
		if lastErr == nil {
			c.mu.Lock()
			c.bindings[h] = base
			c.mu.Unlock()
			go func() {
				<-h.Done()
				c.unbind(h)
			}()
			return nil
		}
		select {
		case <-ctx.Done():
			return &ChannelError{Key: h.Key, Op: "connect", Err: errors.Join(ctx.Err(), lastErr)}
		case <-h.Done():
		case <-ticker.C:
		}
	}
}

func (c *HTTPChannel) Ping(ctx context.Context, h *Handle) error {
	base, err := c.binding(h, "ping")
	if err != nil {
		return err
	}
	var resp agent.PingResponse
	if err := c.do(ctx, http.MethodGet, base+agent.PathPing, &resp); err != nil {
		return &ChannelError{Key: h.Key, Op: "ping", Err: err}
	}
	return nil
}

func (c *HTTPChannel) IsReady(ctx context.Context, h *Handle) (bool, error) {
	base, err := c.binding(h, "ready")
	if err != nil {
		return false, err
	}
	var resp agent.ReadyResponse
	if err := c.do(ctx, http.MethodGet, base+agent.PathReady, &resp); err != nil {
		return false, &ChannelError{Key: h.Key, Op: "ready", Err: err}
	}
	return resp.Ready, nil
}

// Terminate posts the request and then waits for the process to exit. A child that
// accepted the request but never exits surfaces as a ctx deadline error.
func (c *HTTPChannel) Terminate(ctx context.Context, h *Handle) error {
	base, err := c.binding(h, "terminate")
	if err != nil {
		return err
	}
	defer c.unbind(h)
	if err := c.do(ctx, http.MethodPost, base+agent.PathTerminate, nil); err != nil {
		return &ChannelError{Key: h.Key, Op: "terminate", Err: err}
	}
	select {
	case <-h.Done():
		return nil
	case <-ctx.Done():
		return &ChannelError{Key: h.Key, Op: "terminate", Err: ctx.Err()}
	}
}

func (c *HTTPChannel) RestartRequested(ctx context.Context, h *Handle) (bool, error) {
	base, err := c.binding(h, "restart")
	if err != nil {
		return false, err
	}
	var resp agent.RestartResponse
	if err := c.do(ctx, http.MethodGet, base+agent.PathRestart, &resp); err != nil {
		return false, &ChannelError{Key: h.Key, Op: "restart", Err: err}
	}
	return resp.Restart, nil
}

func (c *HTTPChannel) binding(h *Handle, op string) (string, error) {
	c.mu.RLock()
	base, ok := c.bindings[h]
	c.mu.RUnlock()
	if !ok {
		return "", &ChannelError{Key: h.Key, Op: op, Err: errors.New("not connected")}
	}
	return base, nil
}

func (c *HTTPChannel) unbind(h *Handle) {
	c.mu.Lock()
	delete(c.bindings, h)
	c.mu.Unlock()
}

func (c *HTTPChannel) do(ctx context.Context, method, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
