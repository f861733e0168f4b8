// Package provider talks to the email providers. A Transport is bound to one
// account's access token per call and never keeps credentials between calls.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unclebandit/outreach-engine/internal/model"
)

// ErrFetchUnsupported is returned by transports that can only send.
var ErrFetchUnsupported = errors.New("provider does not support fetching messages")

type OutgoingMessage struct {
	From      string
	To        string
	Subject   string
	Body      string
	HTMLBody  string
	MessageID string
	InReplyTo string
	Date      time.Time
}

type FetchQuery struct {
	Since     *time.Time
	PageToken string
	PageSize  int
}

// FetchPage is one page of received messages. AccountID is left for the caller to set.
type FetchPage struct {
	Messages      []*model.InboundMessage
	NextPageToken string
}

type Transport interface {
	Send(ctx context.Context, accessToken string, msg *OutgoingMessage) (providerMessageID string, err error)
	Fetch(ctx context.Context, accessToken string, q FetchQuery) (*FetchPage, error)
	Refresh(ctx context.Context, refreshToken string) (accessToken string, expiry time.Time, err error)
	Revoke(ctx context.Context, token string) error
}

type Registry map[model.ProviderKind]Transport

func (r Registry) Get(kind model.ProviderKind) (Transport, error) {
	t, ok := r[kind]
	if !ok {
		return nil, fmt.Errorf("no transport registered for provider %q", kind)
	}
	return t, nil
}
