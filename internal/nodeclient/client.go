// v1
// internal/nodeclient/client.go
// Package nodeclient fetches readings from a sensor node over HTTP.
package nodeclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"homemon/internal/reading"
)

// maxBody bounds the wire payload read from the node.
const maxBody = 4 << 10

// Doer is satisfied by *http.Client and *breaker.HTTPClient.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	base           string
	h              Doer
	stampOnReceipt bool
	now            func() time.Time
}

// New builds a client for the node at base (for example http://pressure-pi).
// With stampOnReceipt the node's timestamp is replaced by the local clock,
// for nodes without a synchronised clock.
func New(base string, h Doer, stampOnReceipt bool) *Client {
	if h == nil {
		h = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		base:           strings.TrimRight(base, "/"),
		h:              h,
		stampOnReceipt: stampOnReceipt,
		now:            time.Now,
	}
}

// URL is the endpoint polled by Acquire.
func (c *Client) URL() string { return c.base + "/json" }

// Acquire performs GET <base>/json and decodes the wire array. Every failure
// is an acquisition failure.
func (c *Client) Acquire(ctx context.Context) (reading.Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(), nil)
	if err != nil {
		return reading.Reading{}, fail(err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.h.Do(req)
	if err != nil {
		return reading.Reading{}, fail(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return reading.Reading{}, fail(err)
	}
	if resp.StatusCode != http.StatusOK {
		return reading.Reading{}, fail(fmt.Errorf("node %s returned %d: %s", c.URL(), resp.StatusCode, strings.TrimSpace(string(body))))
	}
	r, err := reading.UnmarshalWire(body)
	if err != nil {
		return reading.Reading{}, fail(err)
	}
	if c.stampOnReceipt {
		r.Timestamp = c.now()
	}
	return r.UTC(), nil
}

func fail(err error) error {
	return fmt.Errorf("%w: %w", reading.ErrAcquisitionFailure, err)
}
