package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
)

const defaultPageSize = 50

// GmailTransport sends and lists mail through the Gmail REST API.
type GmailTransport struct {
	*OAuth
	// Endpoint overrides the API base URL, used by tests.
	Endpoint string
}

func NewGmailTransport(oauth *OAuth, endpoint string) *GmailTransport {
	return &GmailTransport{OAuth: oauth, Endpoint: endpoint}
}

func (g *GmailTransport) service(ctx context.Context, accessToken string) (*gmail.Service, error) {
	base := context.WithValue(ctx, oauth2.HTTPClient, g.Client)
	client := oauth2.NewClient(base, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if g.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.Endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	return svc, nil
}

func (g *GmailTransport) Send(ctx context.Context, accessToken string, msg *OutgoingMessage) (string, error) {
	raw, err := BuildMIME(msg)
	if err != nil {
		return "", err
	}
	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return "", err
	}
	sent, err := svc.Users.Messages.Send("me", &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}).Context(ctx).Do()
	if err != nil {
		return "", gmailError(err)
	}
	return sent.Id, nil
}

// Fetch lists inbox messages received after q.Since and downloads each one raw.
// Messages that cannot be parsed are skipped.
func (g *GmailTransport) Fetch(ctx context.Context, accessToken string, q FetchQuery) (*FetchPage, error) {
	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	size := q.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	query := "in:inbox"
	if q.Since != nil {
		query += fmt.Sprintf(" after:%d", q.Since.Unix())
	}
	call := svc.Users.Messages.List("me").Q(query).MaxResults(int64(size)).Context(ctx)
	if q.PageToken != "" {
		call = call.PageToken(q.PageToken)
	}
	list, err := call.Do()
	if err != nil {
		return nil, gmailError(err)
	}

	page := &FetchPage{NextPageToken: list.NextPageToken}
	for _, ref := range list.Messages {
		full, err := svc.Users.Messages.Get("me", ref.Id).Format("raw").Context(ctx).Do()
		if err != nil {
			return nil, gmailError(err)
		}
		raw, err := decodeRaw(full.Raw)
		if err != nil {
			continue
		}
		msg, err := ParseMIME(raw)
		if err != nil {
			continue
		}
		if msg.MessageID == "" {
			msg.MessageID = full.Id
		}
		if full.InternalDate > 0 {
			msg.ReceivedAt = time.UnixMilli(full.InternalDate).UTC()
		}
		page.Messages = append(page.Messages, msg)
	}
	return page, nil
}

func decodeRaw(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func gmailError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusUnauthorized {
			return appErrors.NewAuthFailed("", err)
		}
		return appErrors.NewProviderError("gmail", gerr.Code, err)
	}
	return appErrors.NewProviderError("gmail", 0, err)
}

var _ Transport = (*GmailTransport)(nil)
