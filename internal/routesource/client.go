// Package routesource polls a route manager for the own route.
package routesource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yeonjoon13/intended-route-monitor/internal/log"
	"github.com/yeonjoon13/intended-route-monitor/internal/model"
)

const maxBody = 1 << 20

// Sink receives the own route, nil when there is none.
type Sink interface {
	SetOwnRoute(*model.OwnRoute)
}

type Client struct {
	URL  string
	HTTP *http.Client
}

func NewClient(url string) *Client {
	return &Client{URL: url, HTTP: &http.Client{Timeout: 30 * time.Second}}
}

// fetch returns the raw route document, or nil if the route manager has no
// route (204 or 404).
func (c *Client) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent, resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("GET %s: %s", c.URL, resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBody))
}

func decode(body []byte) (*model.OwnRoute, error) {
	if body == nil {
		return nil, nil
	}
	var msg model.RouteMessage
	if err := model.UnmarshalRouteMessage(body, &msg); err != nil {
		return nil, fmt.Errorf("decode own route: %w", err)
	}
	return model.NewOwnRoute(msg.Route(), msg.ActiveIndex()), nil
}

// FetchOwnRoute returns the route manager's current own route, or nil if it
// has none.
func (c *Client) FetchOwnRoute(ctx context.Context) (*model.OwnRoute, error) {
	body, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return decode(body)
}

// Poll fetches the own route every interval until ctx is done and passes it
// to sink when it differs from the last one fetched. Failed polls keep the
// previous route.
func (c *Client) Poll(ctx context.Context, interval time.Duration, sink Sink, lg *log.Logger) error {
	var last []byte
	first := true

	poll := func() {
		body, err := c.fetch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				lg.Warn("own route fetch failed", "url", c.URL, "error", err)
			}
			return
		}
		if !first && bytes.Equal(body, last) {
			return
		}
		own, err := decode(body)
		if err != nil {
			lg.Warn("own route dropped", "url", c.URL, "error", err)
			return
		}
		first, last = false, body
		sink.SetOwnRoute(own)
		if own == nil {
			lg.Info("own route cleared")
			return
		}
		lg.Info("own route updated", "name", own.Name, "waypoints", own.Len(), "active", own.Active())
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	poll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			poll()
		}
	}
}
