package service_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/unclebandit/outreach-engine/internal/cache"
	"github.com/unclebandit/outreach-engine/internal/config"
	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/gateway"
	"github.com/unclebandit/outreach-engine/internal/generator"
	"github.com/unclebandit/outreach-engine/internal/llm"
	"github.com/unclebandit/outreach-engine/internal/llm/llmtest"
	"github.com/unclebandit/outreach-engine/internal/lock"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/provider"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/repository/memstore"
	"github.com/unclebandit/outreach-engine/internal/sentiment"
	"github.com/unclebandit/outreach-engine/internal/service"
	"github.com/unclebandit/outreach-engine/internal/vault"
)

const workspace = "ws-1"

// fakeTransport stands in for a provider. Sends to addresses in failFor fail
// with a provider error.
type fakeTransport struct {
	mu        sync.Mutex
	sent      []*provider.OutgoingMessage
	failFor   map[string]bool
	inbox     []*model.InboundMessage
	revoked   []string
	revokeErr error
}

func (f *fakeTransport) Send(_ context.Context, _ string, msg *provider.OutgoingMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[msg.To] {
		return "", appErrors.NewProviderError("fake", 503, fmt.Errorf("mailbox unavailable"))
	}
	cp := *msg
	f.sent = append(f.sent, &cp)
	return "prov-" + msg.MessageID, nil
}

func (f *fakeTransport) Fetch(_ context.Context, _ string, q provider.FetchQuery) (*provider.FetchPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := &provider.FetchPage{}
	for _, m := range f.inbox {
		if q.Since == nil || m.ReceivedAt.After(*q.Since) {
			cp := *m
			page.Messages = append(page.Messages, &cp)
		}
	}
	return page, nil
}

func (f *fakeTransport) Refresh(context.Context, string) (string, time.Time, error) {
	return "", time.Time{}, fmt.Errorf("refresh not expected")
}

func (f *fakeTransport) Revoke(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, token)
	return f.revokeErr
}

func (f *fakeTransport) Sent() []*provider.OutgoingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*provider.OutgoingMessage(nil), f.sent...)
}

func (f *fakeTransport) receive(m *model.InboundMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, m)
}

// recordingQueue collects published jobs without running them.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []string
}

func (q *recordingQueue) Publish(_ context.Context, topic string, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, topic+":"+job.ID)
	return nil
}

func (q *recordingQueue) Jobs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.jobs...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	t         *testing.T
	db        *memstore.DB
	store     repository.Store
	transport *fakeTransport
	clock     *clock
	locks     *lock.KeyedMutex
	queue     *recordingQueue
	llm       *llmtest.Client
	gw        *gateway.Gateway
	sleeps    int

	campaigns *service.CampaignService
	inbound   *service.InboundService
	followups *service.FollowupService
	analytics *service.AnalyticsService
	accounts  *service.AccountService

	account *model.EmailAccount
}

// newFixture wires every service over memstore. client answers both draft
// and sentiment prompts; nil makes every completion fail.
func newFixture(t *testing.T, client *llmtest.Client) *fixture {
	t.Helper()
	if client == nil {
		client = llmtest.Failing()
	}
	logger := zaptest.NewLogger(t)
	policy := config.DefaultPolicy()

	f := &fixture{
		t:         t,
		db:        memstore.New(),
		transport: &fakeTransport{failFor: map[string]bool{}},
		clock:     &clock{now: time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)},
		locks:     lock.NewKeyedMutex(),
		queue:     &recordingQueue{},
		llm:       client,
	}
	f.store = f.db.Store()

	v, err := vault.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	f.gw = gateway.New(f.store, v, provider.Registry{model.ProviderGmail: f.transport}, f.locks, logger)
	f.gw.Now = f.clock.Now

	gen := generator.New(client, cache.NewMemory(), policy, logger)
	cl := sentiment.New(client, cache.NewMemory(), policy, logger)

	f.campaigns = service.NewCampaignService(f.store, f.gw, gen, f.queue, f.locks, policy, logger)
	f.campaigns.Now = f.clock.Now
	f.campaigns.Sleep = func(context.Context, time.Duration) error {
		f.sleeps++
		return nil
	}

	f.inbound = service.NewInboundService(f.store, f.gw, cl, gen, f.locks, policy, logger)
	f.inbound.Now = f.clock.Now

	f.followups = service.NewFollowupService(f.store, f.gw, gen, f.locks, policy, logger)
	f.followups.Now = f.clock.Now
	f.followups.Sleep = func(context.Context, time.Duration) error { return nil }

	f.analytics = service.NewAnalyticsService(f.store)
	f.analytics.Now = f.clock.Now

	f.accounts = service.NewAccountService(f.store, v, f.gw, policy, logger)
	f.accounts.Now = f.clock.Now

	f.account = f.connect(50)
	return f
}

func (f *fixture) connect(limit int) *model.EmailAccount {
	f.t.Helper()
	acc, err := f.accounts.ConnectAccount(context.Background(), service.ConnectAccountInput{
		OwnerID:      "owner-1",
		WorkspaceID:  workspace,
		Email:        "sales@acme.io",
		Provider:     model.ProviderGmail,
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		DailyLimit:   limit,
	})
	require.NoError(f.t, err)
	return acc
}

func (f *fixture) addLead(first, company string) *model.Lead {
	f.t.Helper()
	l := &model.Lead{
		WorkspaceID: workspace,
		Email:       strings.ToLower(first) + "@" + strings.ToLower(strings.ReplaceAll(company, " ", "")) + ".com",
		FirstName:   first,
		Company:     company,
		Industry:    "logistics",
	}
	require.NoError(f.t, f.store.Leads.Create(context.Background(), l))
	return l
}

func (f *fixture) lead(id string) *model.Lead {
	f.t.Helper()
	l, err := f.store.Leads.GetByID(context.Background(), id)
	require.NoError(f.t, err)
	return l
}

func (f *fixture) campaign(id string) *model.Campaign {
	f.t.Helper()
	c, err := f.store.Campaigns.GetByID(context.Background(), id)
	require.NoError(f.t, err)
	return c
}

// createCampaign creates an immediate campaign over leads on the fixture account.
func (f *fixture) createCampaign(mod func(*service.CreateCampaignInput), leads ...*model.Lead) *model.Campaign {
	f.t.Helper()
	in := service.CreateCampaignInput{
		WorkspaceID:  workspace,
		AccountID:    f.account.ID,
		Name:         "Q3 outreach",
		ScheduleType: model.ScheduleImmediate,
		Template:     model.TemplateConfig{Tone: "friendly", ValueProposition: "We cut freight costs."},
	}
	for _, l := range leads {
		in.LeadIDs = append(in.LeadIDs, l.ID)
	}
	if mod != nil {
		mod(&in)
	}
	c, err := f.campaigns.CreateCampaign(context.Background(), in)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) sentWithStatus(status model.SentStatus) []model.SentMessage {
	var out []model.SentMessage
	for _, m := range f.db.SentMessages() {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out
}

// draftAndLabel answers draft prompts with a fixed email and sentiment prompts
// with label.
func draftAndLabel(label string) *llmtest.Client {
	return &llmtest.Client{Reply: func(req llm.Request) (*llm.Response, error) {
		if strings.Contains(req.Messages[0].Content, "classify") {
			return &llm.Response{Content: fmt.Sprintf(`{"sentiment":%q,"summary":"reply summary"}`, label), TokensUsed: 5}, nil
		}
		return &llm.Response{Content: `{"subject":"A quick idea","body":"Hi there,\n\nShort pitch."}`, TokensUsed: 20}, nil
	}}
}
