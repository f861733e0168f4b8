package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/unclebandit/outreach-engine/internal/model"
)

type AccountRepositoryInterface interface {
	Create(ctx context.Context, acc *model.EmailAccount) error
	GetByID(ctx context.Context, id string) (*model.EmailAccount, error)
	ListEnabled(ctx context.Context) ([]*model.EmailAccount, error)
	UpdateAccessToken(ctx context.Context, id string, enc []byte, expiry *time.Time) error
	Delete(ctx context.Context, id string) error
}

type LeadRepositoryInterface interface {
	Create(ctx context.Context, l *model.Lead) error
	GetByID(ctx context.Context, id string) (*model.Lead, error)
	// ListByIDs returns the leads of the workspace among ids. Unknown ids are dropped.
	ListByIDs(ctx context.Context, workspaceID string, ids []string) ([]*model.Lead, error)
	// FindByEmail returns nil, nil when the workspace has no such lead.
	FindByEmail(ctx context.Context, workspaceID, email string) (*model.Lead, error)
	MarkContacted(ctx context.Context, id string, at time.Time) error
	RecordReply(ctx context.Context, id string, status model.LeadStatus, at time.Time) error
}

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, workspaceID, status string) ([]*model.Campaign, int, error)
	ListByStatus(ctx context.Context, statuses ...model.CampaignStatus) ([]*model.Campaign, error)
	// ListDueScheduled returns draft campaigns whose scheduled_at is at or before now.
	ListDueScheduled(ctx context.Context, now time.Time) ([]*model.Campaign, error)
	// FindAutoReply returns the oldest active or completed auto-reply campaign
	// of the workspace, or nil.
	FindAutoReply(ctx context.Context, workspaceID string) (*model.Campaign, error)
	// SetStatus moves the campaign to `to` when its current status is one of
	// from (any status when from is empty). A nil metadata keeps the stored map.
	SetStatus(ctx context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus, metadata map[string]string) (bool, error)
	// IncrementSent adds n to emails_sent, capped at the number of target leads.
	IncrementSent(ctx context.Context, id string, n int) error
	IncrementReplied(ctx context.Context, id string) error
	CountByStatus(ctx context.Context, workspaceID string) (map[string]int, error)
	Delete(ctx context.Context, id string) error
}

// SendTotals aggregates sent_messages for analytics.
type SendTotals struct {
	Sent    int
	Failed  int
	Threads int
	Replied int
}

type SentMessageRepositoryInterface interface {
	Create(ctx context.Context, m *model.SentMessage) error
	CountSentSince(ctx context.Context, accountID string, since time.Time) (int, error)
	// LatestForLead returns nil, nil when the lead was never sent to.
	LatestForLead(ctx context.Context, leadID string) (*model.SentMessage, error)
	MarkRepliedByLead(ctx context.Context, leadID string, at time.Time) (int, error)
	// FollowupCandidates returns the latest sent message of each lead thread in
	// the campaign that is unreplied and was sent at or before sentBefore.
	FollowupCandidates(ctx context.Context, campaignID string, sentBefore time.Time) ([]*model.SentMessage, error)
	CountThread(ctx context.Context, threadID, leadID string) (int, error)
	GetCampaignStats(ctx context.Context, campaignID string) (map[string]int, error)
	Totals(ctx context.Context, workspaceID string, since *time.Time) (SendTotals, error)
}

type InboundMessageRepositoryInterface interface {
	// CreateIfNotExists stores m unless (account_id, message_id) is already known.
	CreateIfNotExists(ctx context.Context, m *model.InboundMessage) (bool, error)
	// LatestReceivedAt is the fetch watermark for the account, nil before the first ingest.
	LatestReceivedAt(ctx context.Context, accountID string) (*time.Time, error)
	ListUnprocessed(ctx context.Context, accountID string, limit int) ([]*model.InboundMessage, error)
	// MarkProcessed closes the message. It reports false when it was already processed.
	MarkProcessed(ctx context.Context, id string, outcome model.ProcessOutcome) (bool, error)
	SentimentBreakdown(ctx context.Context, workspaceID string, since *time.Time) (map[string]int, error)
}

// Store bundles the repositories the services depend on.
type Store struct {
	Accounts  AccountRepositoryInterface
	Leads     LeadRepositoryInterface
	Campaigns CampaignRepositoryInterface
	Sent      SentMessageRepositoryInterface
	Inbound   InboundMessageRepositoryInterface
}

func NewPostgresStore(db *sql.DB) Store {
	return Store{
		Accounts:  &AccountRepository{DB: db},
		Leads:     &LeadRepository{DB: db},
		Campaigns: &CampaignRepository{DB: db},
		Sent:      &SentMessageRepository{DB: db},
		Inbound:   &InboundMessageRepository{DB: db},
	}
}

func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalMap(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	m := map[string]string{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func statusStrings(statuses []model.CampaignStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
