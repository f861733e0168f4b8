// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/unclebandit/outreach-engine/internal/llm"
)

var ErrUnavailable = errors.New("completion service unavailable")

// Client answers every request with Reply. A nil Reply fails with ErrUnavailable.
type Client struct {
	Reply func(req llm.Request) (*llm.Response, error)

	mu       sync.Mutex
	requests []llm.Request
}

// Returning answers every request with content and tokens.
func Returning(content string, tokens int) *Client {
	return &Client{Reply: func(llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: content, TokensUsed: tokens}, nil
	}}
}

// Failing fails every request.
func Failing() *Client {
	return &Client{}
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Reply == nil {
		return nil, ErrUnavailable
	}
	return c.Reply(req)
}

func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *Client) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Request(nil), c.requests...)
}

var _ llm.Client = (*Client)(nil)
