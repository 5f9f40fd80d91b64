package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"peerd/pkg/model"
)

// Event is one message of the event stream.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Cycle decodes the payload of a "cycle" event.
func (e Event) Cycle() (model.CycleEvent, bool) {
	var ev model.CycleEvent
	if e.Type != "cycle" || json.Unmarshal(e.Payload, &ev) != nil {
		return model.CycleEvent{}, false
	}
	return ev, true
}

// Events streams daemon events to fn until ctx is done, reconnecting after
// connection loss. It returns ErrUnauthorized without retrying when the
// daemon rejects the credentials.
func (c *Client) Events(ctx context.Context, fn func(Event)) error {
	endpoint := c.eventsURL()
	for {
		err := c.streamOnce(ctx, endpoint, fn)
		if errors.Is(err, ErrUnauthorized) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		c.Logger.Warn("event stream interrupted, reconnecting",
			zap.String("url", endpoint), zap.Error(err), zap.Duration("after", c.Reconnect))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.Reconnect):
		}
	}
}

func (c *Client) streamOnce(ctx context.Context, endpoint string, fn func(Event)) error {
	header := http.Header{}
	c.authorize(header)
	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close()
	c.Logger.Debug("event stream connected", zap.String("url", endpoint))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		fn(ev)
	}
}

func (c *Client) eventsURL() string {
	u := *c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = "/api/v1/ws/events"
	return u.String()
}
