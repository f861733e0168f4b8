package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/lock"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/provider"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/repository/memstore"
	"github.com/unclebandit/outreach-engine/internal/vault"
)

type fakeTransport struct {
	mu           sync.Mutex
	sendErrs     []error
	sent         []*provider.OutgoingMessage
	tokens       []string
	refreshCalls int
	refreshed    string
	refreshErr   error
	pages        []*provider.FetchPage
	fetchErr     error
	revoked      []string
}

func (f *fakeTransport) Send(_ context.Context, token string, msg *provider.OutgoingMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return "", err
		}
	}
	f.sent = append(f.sent, msg)
	return "prov-" + msg.MessageID, nil
}

func (f *fakeTransport) Fetch(_ context.Context, token string, q provider.FetchQuery) (*provider.FetchPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	if f.fetchErr != nil {
		err := f.fetchErr
		f.fetchErr = nil
		return nil, err
	}
	idx := 0
	if q.PageToken != "" {
		idx = int(q.PageToken[0] - '0')
	}
	return f.pages[idx], nil
}

func (f *fakeTransport) Refresh(_ context.Context, refresh string) (string, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return "", time.Time{}, f.refreshErr
	}
	if refresh != "refresh-1" {
		return "", time.Time{}, errors.New("unexpected refresh token")
	}
	return f.refreshed, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), nil
}

func (f *fakeTransport) Revoke(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, token)
	return nil
}

type fixture struct {
	gw        *Gateway
	store     repository.Store
	db        *memstore.DB
	vault     *vault.Vault
	transport *fakeTransport
	account   *model.EmailAccount
	now       time.Time
}

func newFixture(t *testing.T, dailyLimit int) *fixture {
	t.Helper()
	v, err := vault.New("0123456789abcdef-test-secret")
	require.NoError(t, err)
	db := memstore.New()
	store := db.Store()

	acc := &model.EmailAccount{
		ID: "acc-1", WorkspaceID: "ws-1", Email: "sales@acme.io", Provider: model.ProviderGmail,
		Enabled: true, DailyLimit: dailyLimit,
	}
	require.NoError(t, v.Store(acc, "access-1", "refresh-1"))
	require.NoError(t, store.Accounts.Create(context.Background(), acc))

	ft := &fakeTransport{refreshed: "access-2"}
	gw := New(store, v, provider.Registry{model.ProviderGmail: ft}, lock.NewKeyedMutex(), zaptest.NewLogger(t))
	now := time.Date(2026, 6, 10, 15, 0, 0, 0, time.UTC)
	gw.Now = func() time.Time { return now }
	return &fixture{gw: gw, store: store, db: db, vault: v, transport: ft, account: acc, now: now}
}

func (f *fixture) send(t *testing.T, to string) (*model.SentMessage, error) {
	t.Helper()
	return f.gw.Send(context.Background(), SendRequest{AccountID: f.account.ID, To: to, Subject: "Hi", Body: "Hello"})
}

func TestSend_RecordsSentMessage(t *testing.T) {
	f := newFixture(t, 10)
	leadID := "lead-1"

	msg, err := f.gw.Send(context.Background(), SendRequest{
		AccountID: f.account.ID, To: "ada@example.com", Subject: "Hi", Body: "Hello", LeadID: &leadID,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SentOK, msg.Status)
	assert.NotEmpty(t, msg.ThreadID)
	assert.Contains(t, msg.MessageID, "@acme.io")
	assert.Equal(t, "prov-"+msg.MessageID, msg.ProviderMessageID)
	assert.Equal(t, []string{"access-1"}, f.transport.tokens)

	stored := f.db.SentMessages()
	require.Len(t, stored, 1)
	assert.Equal(t, msg.ID, stored[0].ID)
}

func TestSend_ThreadedReplyKeepsThread(t *testing.T) {
	f := newFixture(t, 10)

	msg, err := f.gw.Send(context.Background(), SendRequest{
		AccountID: f.account.ID, To: "ada@example.com", Subject: "Re: Hi", Body: "Following up",
		ThreadID: "thread-9", InReplyTo: "orig@acme.io",
	})
	require.NoError(t, err)
	assert.Equal(t, "thread-9", msg.ThreadID)
	assert.Equal(t, "orig@acme.io", f.transport.sent[0].InReplyTo)
}

func TestSend_DailyCap(t *testing.T) {
	f := newFixture(t, 2)

	for range 2 {
		_, err := f.send(t, "ada@example.com")
		require.NoError(t, err)
	}
	msg, err := f.send(t, "bob@example.com")
	assert.Nil(t, msg)
	assert.True(t, appErrors.IsRateLimited(err))
	assert.Len(t, f.transport.tokens, 2, "provider must not be contacted once capped")
	assert.Len(t, f.db.SentMessages(), 2, "a rate limited send is not recorded")

	// yesterday's sends do not count
	f.gw.Now = func() time.Time { return f.now.Add(24 * time.Hour) }
	_, err = f.send(t, "bob@example.com")
	assert.NoError(t, err)
}

func TestSend_FailuresDoNotConsumeCap(t *testing.T) {
	f := newFixture(t, 1)
	f.transport.sendErrs = []error{appErrors.NewProviderError("gmail", 503, errors.New("unavailable"))}

	msg, err := f.send(t, "ada@example.com")
	require.Error(t, err)
	assert.True(t, appErrors.IsProviderError(err))
	assert.Equal(t, model.SentFailed, msg.Status)
	assert.Contains(t, msg.Error, "unavailable")

	_, err = f.send(t, "ada@example.com")
	assert.NoError(t, err)
}

func TestSend_AuthFailedRefreshesOnceAndRetries(t *testing.T) {
	f := newFixture(t, 10)
	f.transport.sendErrs = []error{appErrors.NewAuthFailed("", errors.New("401"))}

	msg, err := f.send(t, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.SentOK, msg.Status)
	assert.Equal(t, 1, f.transport.refreshCalls)
	assert.Equal(t, []string{"access-1", "access-2"}, f.transport.tokens)

	acc, err := f.store.Accounts.GetByID(context.Background(), f.account.ID)
	require.NoError(t, err)
	require.NotNil(t, acc.TokenExpiry)
	require.NoError(t, f.vault.Use(acc, func(c vault.Credentials) error {
		assert.Equal(t, "access-2", c.AccessToken)
		assert.Equal(t, "refresh-1", c.RefreshToken)
		return nil
	}))
}

func TestSend_SecondAuthFailureIsSurfaced(t *testing.T) {
	f := newFixture(t, 10)
	authErr := appErrors.NewAuthFailed("", errors.New("401"))
	f.transport.sendErrs = []error{authErr, authErr, authErr}

	msg, err := f.send(t, "ada@example.com")
	require.Error(t, err)
	assert.True(t, appErrors.IsAuthFailed(err))
	assert.Equal(t, 1, f.transport.refreshCalls)
	assert.Len(t, f.transport.tokens, 2, "bounded retry of one")
	assert.Equal(t, model.SentFailed, msg.Status)
}

func TestSend_ExpiredTokenRefreshesFirst(t *testing.T) {
	f := newFixture(t, 10)
	expired := f.now.Add(-time.Minute)
	f.account.TokenExpiry = &expired
	require.NoError(t, f.store.Accounts.UpdateAccessToken(context.Background(), f.account.ID, f.account.AccessTokenEnc, &expired))

	_, err := f.send(t, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, f.transport.refreshCalls)
	assert.Equal(t, []string{"access-2"}, f.transport.tokens)
}

func TestSend_CorruptCredentialRecordsFailure(t *testing.T) {
	f := newFixture(t, 10)
	bad := append([]byte(nil), f.account.AccessTokenEnc...)
	bad[len(bad)-1] ^= 0xff
	require.NoError(t, f.store.Accounts.UpdateAccessToken(context.Background(), f.account.ID, bad, nil))

	msg, err := f.send(t, "ada@example.com")
	assert.True(t, appErrors.IsCredentialCorrupt(err))
	require.NotNil(t, msg)
	assert.Equal(t, model.SentFailed, msg.Status)
	assert.Empty(t, f.transport.tokens)
}

func TestSend_DisabledAccount(t *testing.T) {
	f := newFixture(t, 10)
	acc := &model.EmailAccount{ID: "acc-off", Email: "x@acme.io", Provider: model.ProviderGmail, DailyLimit: 5}
	require.NoError(t, f.vault.Store(acc, "a", ""))
	require.NoError(t, f.store.Accounts.Create(context.Background(), acc))

	_, err := f.gw.Send(context.Background(), SendRequest{AccountID: "acc-off", To: "a@b.c"})
	assert.True(t, appErrors.IsValidation(err))
}

func TestSend_ConcurrentSendsRespectCap(t *testing.T) {
	f := newFixture(t, 3)
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.send(t, "ada@example.com")
		}()
	}
	wg.Wait()
	n, err := f.store.Sent.CountSentSince(context.Background(), f.account.ID, startOfDay(f.now))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestFetchSince_PagesLazily(t *testing.T) {
	f := newFixture(t, 10)
	f.transport.pages = []*provider.FetchPage{
		{Messages: []*model.InboundMessage{{MessageID: "a"}, {MessageID: "b"}}, NextPageToken: "1"},
		{Messages: []*model.InboundMessage{{MessageID: "c", ReceivedAt: f.now.Add(-time.Hour)}}},
	}

	var ids []string
	for m, err := range f.gw.FetchSince(context.Background(), f.account.ID, nil) {
		require.NoError(t, err)
		assert.Equal(t, f.account.ID, m.AccountID)
		assert.False(t, m.ReceivedAt.IsZero())
		ids = append(ids, m.MessageID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	// stopping early does not fetch the next page
	f.transport.tokens = nil
	for range f.gw.FetchSince(context.Background(), f.account.ID, nil) {
		break
	}
	assert.Len(t, f.transport.tokens, 1)
}

func TestFetchSince_RefreshesOnAuthFailure(t *testing.T) {
	f := newFixture(t, 10)
	f.transport.fetchErr = appErrors.NewAuthFailed("", errors.New("401"))
	f.transport.pages = []*provider.FetchPage{{Messages: []*model.InboundMessage{{MessageID: "a"}}}}

	n := 0
	for _, err := range f.gw.FetchSince(context.Background(), f.account.ID, nil) {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.transport.refreshCalls)
}

func TestFetchSince_UnsupportedYieldsNothing(t *testing.T) {
	f := newFixture(t, 10)
	f.transport.fetchErr = provider.ErrFetchUnsupported

	for m, err := range f.gw.FetchSince(context.Background(), f.account.ID, nil) {
		t.Fatalf("unexpected item %v %v", m, err)
	}
}

func TestRevoke_PrefersRefreshToken(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.gw.Revoke(context.Background(), f.account))
	assert.Equal(t, []string{"refresh-1"}, f.transport.revoked)
	assert.Nil(t, f.account.AccessTokenEnc)
}
