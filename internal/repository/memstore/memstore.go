// Package memstore is an in-memory implementation of the repository
// interfaces. It backs the service tests and local runs without DATABASE_URL.
package memstore

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

type DB struct {
	mu        sync.Mutex
	accounts  map[string]*model.EmailAccount
	leads     map[string]*model.Lead
	campaigns map[string]*model.Campaign
	sent      []*model.SentMessage
	inbound   []*model.InboundMessage
}

func New() *DB {
	return &DB{
		accounts:  map[string]*model.EmailAccount{},
		leads:     map[string]*model.Lead{},
		campaigns: map[string]*model.Campaign{},
	}
}

// Store returns the repository bundle backed by d.
func (d *DB) Store() repository.Store {
	return repository.Store{
		Accounts:  &accounts{d},
		Leads:     &leads{d},
		Campaigns: &campaigns{d},
		Sent:      &sentMessages{d},
		Inbound:   &inboundMessages{d},
	}
}

// SentMessages returns a snapshot of every sent record in insertion order.
func (d *DB) SentMessages() []model.SentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.SentMessage, len(d.sent))
	for i, m := range d.sent {
		out[i] = *m
	}
	return out
}

// ====================== accounts ======================

type accounts struct{ d *DB }

func (r *accounts) Create(_ context.Context, acc *model.EmailAccount) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now().UTC()
	}
	cp := *acc
	r.d.accounts[acc.ID] = &cp
	return nil
}

func (r *accounts) GetByID(_ context.Context, id string) (*model.EmailAccount, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	acc, ok := r.d.accounts[id]
	if !ok {
		return nil, appErrors.NewNotFound("account", id)
	}
	cp := *acc
	return &cp, nil
}

func (r *accounts) ListEnabled(_ context.Context) ([]*model.EmailAccount, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	out := []*model.EmailAccount{}
	for _, acc := range r.d.accounts {
		if acc.Enabled {
			cp := *acc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *accounts) UpdateAccessToken(_ context.Context, id string, enc []byte, expiry *time.Time) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	acc, ok := r.d.accounts[id]
	if !ok {
		return appErrors.NewNotFound("account", id)
	}
	acc.AccessTokenEnc = slices.Clone(enc)
	acc.TokenExpiry = expiry
	return nil
}

func (r *accounts) Delete(_ context.Context, id string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.accounts[id]; !ok {
		return appErrors.NewNotFound("account", id)
	}
	delete(r.d.accounts, id)
	for cid, c := range r.d.campaigns {
		if c.AccountID == id {
			delete(r.d.campaigns, cid)
		}
	}
	return nil
}

// ====================== leads ======================

type leads struct{ d *DB }

func (r *leads) Create(_ context.Context, l *model.Lead) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Status == "" {
		l.Status = model.LeadNew
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	l.Email = strings.ToLower(strings.TrimSpace(l.Email))
	cp := *l
	r.d.leads[l.ID] = &cp
	return nil
}

func (r *leads) GetByID(_ context.Context, id string) (*model.Lead, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	l, ok := r.d.leads[id]
	if !ok {
		return nil, appErrors.NewNotFound("lead", id)
	}
	cp := *l
	return &cp, nil
}

func (r *leads) ListByIDs(_ context.Context, workspaceID string, ids []string) ([]*model.Lead, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	out := []*model.Lead{}
	for _, id := range ids {
		if l, ok := r.d.leads[id]; ok && l.WorkspaceID == workspaceID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *leads) FindByEmail(_ context.Context, workspaceID, email string) (*model.Lead, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, l := range r.d.leads {
		if l.WorkspaceID == workspaceID && l.Email == email {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *leads) MarkContacted(_ context.Context, id string, at time.Time) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	l, ok := r.d.leads[id]
	if !ok {
		return appErrors.NewNotFound("lead", id)
	}
	l.LastContactedAt = &at
	if l.Status == model.LeadNew {
		l.Status = model.LeadContacted
	}
	return nil
}

func (r *leads) RecordReply(_ context.Context, id string, status model.LeadStatus, at time.Time) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	l, ok := r.d.leads[id]
	if !ok {
		return appErrors.NewNotFound("lead", id)
	}
	l.Status = status
	l.LastReplyAt = &at
	return nil
}

// ====================== campaigns ======================

type campaigns struct{ d *DB }

func copyCampaign(c *model.Campaign) *model.Campaign {
	cp := *c
	cp.LeadIDs = slices.Clone(c.LeadIDs)
	if c.Metadata != nil {
		cp.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func (r *campaigns) Create(_ context.Context, c *model.Campaign) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	r.d.campaigns[c.ID] = copyCampaign(c)
	return nil
}

func (r *campaigns) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	c, ok := r.d.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return copyCampaign(c), nil
}

// sorted returns the campaigns newest first, matching the postgres ordering.
func (r *campaigns) sorted(keep func(*model.Campaign) bool) []*model.Campaign {
	out := []*model.Campaign{}
	for _, c := range r.d.campaigns {
		if keep(c) {
			out = append(out, copyCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (r *campaigns) ListCampaigns(_ context.Context, offset, limit int, workspaceID, status string) ([]*model.Campaign, int, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	all := r.sorted(func(c *model.Campaign) bool {
		return (workspaceID == "" || c.WorkspaceID == workspaceID) && (status == "" || string(c.Status) == status)
	})
	total := len(all)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (r *campaigns) ListByStatus(_ context.Context, statuses ...model.CampaignStatus) ([]*model.Campaign, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	out := r.sorted(func(c *model.Campaign) bool { return slices.Contains(statuses, c.Status) })
	slices.Reverse(out)
	return out, nil
}

func (r *campaigns) ListDueScheduled(_ context.Context, now time.Time) ([]*model.Campaign, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	out := r.sorted(func(c *model.Campaign) bool {
		return c.Status == model.CampaignDraft && c.ScheduledAt != nil && !c.ScheduledAt.After(now)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	return out, nil
}

func (r *campaigns) FindAutoReply(_ context.Context, workspaceID string) (*model.Campaign, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	out := r.sorted(func(c *model.Campaign) bool {
		return c.WorkspaceID == workspaceID && c.AutoReply &&
			(c.Status == model.CampaignActive || c.Status == model.CampaignCompleted)
	})
	if len(out) == 0 {
		return nil, nil
	}
	return out[len(out)-1], nil
}

func (r *campaigns) SetStatus(_ context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus, metadata map[string]string) (bool, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	c, ok := r.d.campaigns[id]
	if !ok || (len(from) > 0 && !slices.Contains(from, c.Status)) {
		return false, nil
	}
	c.Status = to
	if metadata != nil {
		c.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			c.Metadata[k] = v
		}
	}
	now := time.Now().UTC()
	c.UpdatedAt = &now
	return true, nil
}

func (r *campaigns) IncrementSent(_ context.Context, id string, n int) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	c, ok := r.d.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.EmailsSent = min(c.EmailsSent+n, len(c.LeadIDs))
	return nil
}

func (r *campaigns) IncrementReplied(_ context.Context, id string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	c, ok := r.d.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.EmailsReplied++
	return nil
}

func (r *campaigns) CountByStatus(_ context.Context, workspaceID string) (map[string]int, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	stats := map[string]int{"draft": 0, "active": 0, "paused": 0, "completed": 0}
	for _, c := range r.d.campaigns {
		if c.WorkspaceID == workspaceID {
			stats[string(c.Status)]++
		}
	}
	return stats, nil
}

func (r *campaigns) Delete(_ context.Context, id string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.campaigns[id]; !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	delete(r.d.campaigns, id)
	for _, m := range r.d.sent {
		if m.CampaignID != nil && *m.CampaignID == id {
			m.CampaignID = nil
		}
	}
	return nil
}

// ====================== sent messages ======================

type sentMessages struct{ d *DB }

func (r *sentMessages) Create(_ context.Context, m *model.SentMessage) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}
	cp := *m
	r.d.sent = append(r.d.sent, &cp)
	return nil
}

func (r *sentMessages) CountSentSince(_ context.Context, accountID string, since time.Time) (int, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	n := 0
	for _, m := range r.d.sent {
		if m.AccountID == accountID && m.Status == model.SentOK && !m.SentAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *sentMessages) LatestForLead(_ context.Context, leadID string) (*model.SentMessage, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	var latest *model.SentMessage
	for _, m := range r.d.sent {
		if m.LeadID != nil && *m.LeadID == leadID && m.Status == model.SentOK {
			if latest == nil || !m.SentAt.Before(latest.SentAt) {
				latest = m
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *sentMessages) MarkRepliedByLead(_ context.Context, leadID string, at time.Time) (int, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	n := 0
	for _, m := range r.d.sent {
		if m.LeadID != nil && *m.LeadID == leadID && m.RepliedAt == nil {
			t := at
			m.RepliedAt = &t
			n++
		}
	}
	return n, nil
}

func (r *sentMessages) FollowupCandidates(_ context.Context, campaignID string, sentBefore time.Time) ([]*model.SentMessage, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	latest := map[string]*model.SentMessage{}
	for _, m := range r.d.sent {
		if m.CampaignID == nil || *m.CampaignID != campaignID || m.LeadID == nil || m.Status != model.SentOK {
			continue
		}
		if cur, ok := latest[m.ThreadID]; !ok || !m.SentAt.Before(cur.SentAt) {
			latest[m.ThreadID] = m
		}
	}
	out := []*model.SentMessage{}
	for _, m := range latest {
		if m.RepliedAt == nil && !m.SentAt.After(sentBefore) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.Before(out[j].SentAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *sentMessages) CountThread(_ context.Context, threadID, leadID string) (int, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	n := 0
	for _, m := range r.d.sent {
		if m.ThreadID == threadID && m.LeadID != nil && *m.LeadID == leadID {
			n++
		}
	}
	return n, nil
}

func (r *sentMessages) GetCampaignStats(_ context.Context, campaignID string) (map[string]int, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	stats := map[string]int{"sent": 0, "failed": 0}
	for _, m := range r.d.sent {
		if m.CampaignID != nil && *m.CampaignID == campaignID {
			stats[string(m.Status)]++
		}
	}
	return stats, nil
}

func (r *sentMessages) Totals(_ context.Context, workspaceID string, since *time.Time) (repository.SendTotals, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	var t repository.SendTotals
	threads, replied := map[string]bool{}, map[string]bool{}
	for _, m := range r.d.sent {
		acc, ok := r.d.accounts[m.AccountID]
		if !ok || acc.WorkspaceID != workspaceID || (since != nil && m.SentAt.Before(*since)) {
			continue
		}
		switch m.Status {
		case model.SentOK:
			t.Sent++
			threads[m.ThreadID] = true
		case model.SentFailed:
			t.Failed++
		}
		if m.RepliedAt != nil {
			replied[m.ThreadID] = true
		}
	}
	t.Threads, t.Replied = len(threads), len(replied)
	return t, nil
}

// ====================== inbound messages ======================

type inboundMessages struct{ d *DB }

func (r *inboundMessages) CreateIfNotExists(_ context.Context, m *model.InboundMessage) (bool, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, existing := range r.d.inbound {
		if existing.AccountID == m.AccountID && existing.MessageID == m.MessageID {
			return false, nil
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	cp := *m
	r.d.inbound = append(r.d.inbound, &cp)
	return true, nil
}

func (r *inboundMessages) LatestReceivedAt(_ context.Context, accountID string) (*time.Time, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	var latest *time.Time
	for _, m := range r.d.inbound {
		if m.AccountID == accountID && (latest == nil || m.ReceivedAt.After(*latest)) {
			t := m.ReceivedAt
			latest = &t
		}
	}
	return latest, nil
}

func (r *inboundMessages) ListUnprocessed(_ context.Context, accountID string, limit int) ([]*model.InboundMessage, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	out := []*model.InboundMessage{}
	for _, m := range r.d.inbound {
		if m.AccountID == accountID && !m.Processed {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *inboundMessages) MarkProcessed(_ context.Context, id string, outcome model.ProcessOutcome) (bool, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, m := range r.d.inbound {
		if m.ID != id {
			continue
		}
		if m.Processed {
			return false, nil
		}
		m.Processed = true
		m.Sentiment = outcome.Sentiment
		m.Summary = outcome.Summary
		m.RequiresAction = outcome.RequiresAction
		if outcome.Error != "" {
			if m.Metadata == nil {
				m.Metadata = map[string]string{}
			}
			m.Metadata["error"] = outcome.Error
		}
		return true, nil
	}
	return false, nil
}

func (r *inboundMessages) SentimentBreakdown(_ context.Context, workspaceID string, since *time.Time) (map[string]int, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	out := map[string]int{
		string(model.SentimentInterested):    0,
		string(model.SentimentNeutral):       0,
		string(model.SentimentNegative):      0,
		string(model.SentimentNotInterested): 0,
	}
	for _, m := range r.d.inbound {
		acc, ok := r.d.accounts[m.AccountID]
		if !ok || acc.WorkspaceID != workspaceID || m.Sentiment == nil || (since != nil && m.ReceivedAt.Before(*since)) {
			continue
		}
		out[string(*m.Sentiment)]++
	}
	return out, nil
}

// Inbound returns a snapshot of every stored inbound message.
func (d *DB) Inbound() []model.InboundMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.InboundMessage, len(d.inbound))
	for i, m := range d.inbound {
		out[i] = *m
	}
	return out
}

var (
	_ repository.AccountRepositoryInterface        = (*accounts)(nil)
	_ repository.LeadRepositoryInterface           = (*leads)(nil)
	_ repository.CampaignRepositoryInterface       = (*campaigns)(nil)
	_ repository.SentMessageRepositoryInterface    = (*sentMessages)(nil)
	_ repository.InboundMessageRepositoryInterface = (*inboundMessages)(nil)
)
