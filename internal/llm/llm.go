// Package llm is the stateless text-completion collaborator.
package llm

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

type Request struct {
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
	// JSON asks the provider for a JSON response body when it supports it.
	JSON bool
}

type Response struct {
	Content    string
	TokensUsed int
}

type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
