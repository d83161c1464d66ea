// Package mock provides a scriptable generate.Client for tests.
package mock

import (
	"context"
	"sync"

	"neighbor-assist/pkg/generate"
)

// Client is a generate.Client whose behavior is set by CompleteFunc.
// With no CompleteFunc it replies with Reply.
type Client struct {
	CompleteFunc func(ctx context.Context, req generate.Request) (string, error)
	Reply        string

	mu       sync.Mutex
	requests []generate.Request
}

// NewClient returns a client that always replies with reply.
func NewClient(reply string) *Client {
	return &Client{Reply: reply}
}

// NewFailingClient returns a client whose every call fails with err.
func NewFailingClient(err error) *Client {
	return &Client{
		CompleteFunc: func(ctx context.Context, req generate.Request) (string, error) {
			return "", err
		},
	}
}

// Complete records req and runs CompleteFunc.
func (c *Client) Complete(ctx context.Context, req generate.Request) (string, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	fn := c.CompleteFunc
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return c.Reply, nil
}

// Calls returns the number of Complete calls.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Requests returns a copy of the recorded requests.
func (c *Client) Requests() []generate.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]generate.Request(nil), c.requests...)
}

var _ generate.Client = (*Client)(nil)
