// Package gateway is the only place provider credentials are opened. It
// enforces the per-account daily cap, serializes sends per account and
// records every send attempt that reached the provider stage.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/lock"
	"github.com/unclebandit/outreach-engine/internal/logging"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/provider"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/vault"
)

// maxFetchPages bounds one FetchSince sequence.
const maxFetchPages = 20

type SendRequest struct {
	AccountID  string
	To         string
	Subject    string
	Body       string
	HTMLBody   string
	CampaignID *string
	LeadID     *string
	// ThreadID groups follow-ups with their original. Empty starts a new thread.
	ThreadID  string
	InReplyTo string
}

type Gateway struct {
	accounts   repository.AccountRepositoryInterface
	sent       repository.SentMessageRepositoryInterface
	vault      *vault.Vault
	transports provider.Registry
	locks      lock.Locker
	logger     *zap.Logger

	Now func() time.Time
}

func New(store repository.Store, v *vault.Vault, transports provider.Registry, locks lock.Locker, logger *zap.Logger) *Gateway {
	return &Gateway{
		accounts:   store.Accounts,
		sent:       store.Sent,
		vault:      v,
		transports: transports,
		locks:      locks,
		logger:     logging.OrNop(logger),
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// Send delivers one message. RateLimited is returned before anything is
// recorded or the provider is contacted. Once the provider stage is reached a
// SentMessage is persisted with status sent or failed and returned alongside
// any error.
func (g *Gateway) Send(ctx context.Context, req SendRequest) (*model.SentMessage, error) {
	release, err := g.locks.Acquire(ctx, "account:"+req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("acquire account lock: %w", err)
	}
	defer release()

	acc, err := g.accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if !acc.Enabled {
		return nil, appErrors.NewValidation("account", "is disabled")
	}

	now := g.Now()
	count, err := g.sent.CountSentSince(ctx, acc.ID, startOfDay(now))
	if err != nil {
		return nil, fmt.Errorf("count today's sends: %w", err)
	}
	if count >= acc.DailyLimit {
		return nil, appErrors.NewRateLimited(acc.ID, acc.DailyLimit)
	}

	transport, err := g.transports.Get(acc.Provider)
	if err != nil {
		return nil, err
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}
	out := &provider.OutgoingMessage{
		From:      acc.Email,
		To:        req.To,
		Subject:   req.Subject,
		Body:      req.Body,
		HTMLBody:  req.HTMLBody,
		MessageID: uuid.NewString() + "@" + domainOf(acc.Email),
		InReplyTo: req.InReplyTo,
		Date:      now,
	}

	providerID, sendErr := g.deliver(ctx, acc, transport, out)

	record := &model.SentMessage{
		AccountID:         acc.ID,
		CampaignID:        req.CampaignID,
		LeadID:            req.LeadID,
		ToEmail:           req.To,
		Subject:           req.Subject,
		Body:              req.Body,
		HTMLBody:          req.HTMLBody,
		MessageID:         out.MessageID,
		ProviderMessageID: providerID,
		ThreadID:          threadID,
		InReplyTo:         req.InReplyTo,
		Status:            model.SentOK,
		SentAt:            now,
	}
	if sendErr != nil {
		record.Status = model.SentFailed
		record.Error = sendErr.Error()
	}
	if err := g.sent.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("record sent message: %w", err)
	}

	fields := []zap.Field{
		zap.String("account_id", acc.ID),
		zap.String("message_id", record.ID),
		zap.String("thread_id", threadID),
	}
	if sendErr != nil {
		g.logger.Warn("send failed", append(fields, zap.Error(sendErr))...)
		return record, sendErr
	}
	g.logger.Debug("message sent", fields...)
	return record, nil
}

// deliver refreshes a known-expired token up front and otherwise retries at
// most once after an AuthFailed.
func (g *Gateway) deliver(ctx context.Context, acc *model.EmailAccount, t provider.Transport, out *provider.OutgoingMessage) (string, error) {
	refreshed := false
	if acc.TokenExpired(g.Now()) {
		if err := g.refresh(ctx, acc, t); err != nil {
			return "", err
		}
		refreshed = true
	}

	var providerID string
	send := func() error {
		return g.vault.Use(acc, func(c vault.Credentials) error {
			id, err := t.Send(ctx, c.AccessToken, out)
			providerID = id
			return err
		})
	}

	err := send()
	if appErrors.IsAuthFailed(err) && !refreshed {
		if rerr := g.refresh(ctx, acc, t); rerr != nil {
			return "", rerr
		}
		err = send()
	}
	if appErrors.IsAuthFailed(err) {
		return "", appErrors.NewAuthFailed(acc.ID, err)
	}
	return providerID, err
}

// refresh rotates the sealed access token on acc and persists it.
func (g *Gateway) refresh(ctx context.Context, acc *model.EmailAccount, t provider.Transport) error {
	var access string
	var expiry time.Time
	err := g.vault.Use(acc, func(c vault.Credentials) error {
		var err error
		access, expiry, err = t.Refresh(ctx, c.RefreshToken)
		return err
	})
	if err != nil {
		if appErrors.IsCredentialCorrupt(err) {
			return err
		}
		return appErrors.NewAuthFailed(acc.ID, err)
	}
	if err := g.vault.RotateAccess(acc, access); err != nil {
		return err
	}
	var exp *time.Time
	if !expiry.IsZero() {
		exp = &expiry
	}
	acc.TokenExpiry = exp
	if err := g.accounts.UpdateAccessToken(ctx, acc.ID, acc.AccessTokenEnc, exp); err != nil {
		return fmt.Errorf("store refreshed token: %w", err)
	}
	g.logger.Info("access token refreshed", zap.String("account_id", acc.ID))
	return nil
}

// FetchSince lazily yields messages received after since. The sequence is
// finite and yields at most one error, after which it stops. Transports that
// cannot fetch yield nothing.
func (g *Gateway) FetchSince(ctx context.Context, accountID string, since *time.Time) iter.Seq2[*model.InboundMessage, error] {
	return func(yield func(*model.InboundMessage, error) bool) {
		acc, err := g.accounts.GetByID(ctx, accountID)
		if err != nil {
			yield(nil, err)
			return
		}
		t, err := g.transports.Get(acc.Provider)
		if err != nil {
			yield(nil, err)
			return
		}

		refreshed := false
		pageToken := ""
		for range maxFetchPages {
			var page *provider.FetchPage
			fetch := func() error {
				return g.vault.Use(acc, func(c vault.Credentials) error {
					var err error
					page, err = t.Fetch(ctx, c.AccessToken, provider.FetchQuery{Since: since, PageToken: pageToken})
					return err
				})
			}
			err := fetch()
			if appErrors.IsAuthFailed(err) && !refreshed {
				refreshed = true
				if err = g.refresh(ctx, acc, t); err == nil {
					err = fetch()
				}
			}
			if errors.Is(err, provider.ErrFetchUnsupported) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			for _, m := range page.Messages {
				m.AccountID = acc.ID
				if m.ReceivedAt.IsZero() {
					m.ReceivedAt = g.Now()
				}
				if !yield(m, nil) {
					return
				}
			}
			if page.NextPageToken == "" {
				return
			}
			pageToken = page.NextPageToken
		}
	}
}

// Revoke asks the account's provider to invalidate its tokens and clears the
// ciphertext on acc.
func (g *Gateway) Revoke(ctx context.Context, acc *model.EmailAccount) error {
	t, err := g.transports.Get(acc.Provider)
	if err != nil {
		return err
	}
	return g.vault.Revoke(ctx, acc, t)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func domainOf(email string) string {
	if i := strings.LastIndexByte(email, '@'); i >= 0 && i < len(email)-1 {
		return email[i+1:]
	}
	return "localhost"
}
