package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/config"
	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/gateway"
	"github.com/unclebandit/outreach-engine/internal/lock"
	"github.com/unclebandit/outreach-engine/internal/logging"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

type InboundService struct {
	AccountRepo  repository.AccountRepositoryInterface
	LeadRepo     repository.LeadRepositoryInterface
	CampaignRepo repository.CampaignRepositoryInterface
	SentRepo     repository.SentMessageRepositoryInterface
	InboundRepo  repository.InboundMessageRepositoryInterface
	Fetcher      Fetcher
	Gateway      Sender
	Classifier   Classifier
	Generator    Drafter
	Locks        lock.Locker
	Policy       config.Policy
	Logger       *zap.Logger

	Now func() time.Time
}

func NewInboundService(store repository.Store, gw Mailer, cl Classifier, gen Drafter, locks lock.Locker, policy config.Policy, logger *zap.Logger) *InboundService {
	return &InboundService{
		AccountRepo:  store.Accounts,
		LeadRepo:     store.Leads,
		CampaignRepo: store.Campaigns,
		SentRepo:     store.Sent,
		InboundRepo:  store.Inbound,
		Fetcher:      gw,
		Gateway:      gw,
		Classifier:   cl,
		Generator:    gen,
		Locks:        locks,
		Policy:       policy,
		Logger:       logging.OrNop(logger),
		Now:          func() time.Time { return time.Now().UTC() },
	}
}

// IngestResult summarizes one ingest run for an account.
type IngestResult struct {
	AccountID   string         `json:"account_id"`
	Fetched     int            `json:"fetched"`
	Processed   int            `json:"processed"`
	Unknown     int            `json:"unknown_sender"`
	Failed      int            `json:"failed"`
	AutoReplies int            `json:"auto_replies"`
	Sentiment   map[string]int `json:"sentiment"`
}

// Ingest pulls new replies for the account and processes one batch of
// unprocessed messages. Every message in the batch ends up processed, even
// when handling it failed.
func (s *InboundService) Ingest(ctx context.Context, accountID string) (*IngestResult, error) {
	release, err := s.Locks.Acquire(ctx, "inbound:"+accountID)
	if err != nil {
		return nil, fmt.Errorf("acquire inbound lock: %w", err)
	}
	defer release()

	acc, err := s.AccountRepo.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	logger := s.Logger.With(zap.String("account_id", accountID))
	res := &IngestResult{AccountID: accountID, Sentiment: map[string]int{}}

	fetched, err := s.fetch(ctx, acc.ID)
	res.Fetched = fetched
	if err != nil {
		// Already stored messages are still processed below.
		logger.Warn("fetching new messages failed", zap.Error(err))
	}

	batch, err := s.InboundRepo.ListUnprocessed(ctx, acc.ID, s.Policy.InboundBatchSize)
	if err != nil {
		return res, fmt.Errorf("list unprocessed: %w", err)
	}
	for _, m := range batch {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		s.handle(ctx, acc, m, res, logger)
	}

	logger.Info("inbound ingest finished",
		zap.Int("fetched", res.Fetched),
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed),
		zap.Int("auto_replies", res.AutoReplies))
	return res, nil
}

// fetch stores every message received after the account's watermark.
func (s *InboundService) fetch(ctx context.Context, accountID string) (int, error) {
	since, err := s.InboundRepo.LatestReceivedAt(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}
	n := 0
	for m, err := range s.Fetcher.FetchSince(ctx, accountID, since) {
		if err != nil {
			return n, err
		}
		created, err := s.InboundRepo.CreateIfNotExists(ctx, m)
		if err != nil {
			return n, fmt.Errorf("store inbound message: %w", err)
		}
		if created {
			n++
		}
	}
	return n, nil
}

// handle processes one message and always closes it.
func (s *InboundService) handle(ctx context.Context, acc *model.EmailAccount, m *model.InboundMessage, res *IngestResult, logger *zap.Logger) {
	var outcome model.ProcessOutcome
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic while processing reply: %v", r)
			}
		}()
		outcome, err = s.process(ctx, acc, m, res, logger)
	}()

	if err != nil {
		res.Failed++
		outcome.Error = err.Error()
		logger.Warn("processing reply failed", zap.String("inbound_id", m.ID), zap.Error(err))
	}
	closed, merr := s.InboundRepo.MarkProcessed(context.WithoutCancel(ctx), m.ID, outcome)
	if merr != nil {
		logger.Error("failed to mark reply processed", zap.String("inbound_id", m.ID), zap.Error(merr))
		return
	}
	if closed {
		res.Processed++
	}
}

func (s *InboundService) process(ctx context.Context, acc *model.EmailAccount, m *model.InboundMessage, res *IngestResult, logger *zap.Logger) (model.ProcessOutcome, error) {
	var outcome model.ProcessOutcome

	lead, err := s.LeadRepo.FindByEmail(ctx, acc.WorkspaceID, m.FromEmail)
	if err != nil {
		return outcome, fmt.Errorf("resolve sender: %w", err)
	}
	if lead == nil {
		res.Unknown++
		return outcome, nil
	}

	cl := s.Classifier.Classify(ctx, m.Body)
	label, summary := cl.Sentiment, cl.Summary
	outcome.Sentiment = &label
	outcome.Summary = &summary
	outcome.RequiresAction = label == model.SentimentInterested
	res.Sentiment[string(label)]++

	now := s.Now()
	next := label.LeadStatus()
	if lead.Status.CanTransition(next) {
		if err := s.LeadRepo.RecordReply(ctx, lead.ID, next, now); err != nil {
			return outcome, fmt.Errorf("record reply on lead: %w", err)
		}
		lead.Status = next
	}

	latest, err := s.SentRepo.LatestForLead(ctx, lead.ID)
	if err != nil {
		return outcome, fmt.Errorf("latest send to lead: %w", err)
	}
	marked, err := s.SentRepo.MarkRepliedByLead(ctx, lead.ID, now)
	if err != nil {
		return outcome, fmt.Errorf("mark sends replied: %w", err)
	}
	// Only the first reply to a send counts toward the campaign.
	if marked > 0 && latest != nil && latest.RepliedAt == nil && latest.CampaignID != nil {
		if err := s.CampaignRepo.IncrementReplied(ctx, *latest.CampaignID); err != nil && !appErrors.IsNotFound(err) {
			return outcome, fmt.Errorf("increment replies: %w", err)
		}
	}

	if label == model.SentimentInterested {
		sent, err := s.autoReply(ctx, acc, lead, m, latest)
		if err != nil {
			logger.Warn("auto reply failed", zap.String("inbound_id", m.ID), zap.Error(err))
		} else if sent {
			res.AutoReplies++
		}
	}
	return outcome, nil
}

// autoReply sends one acknowledgement threaded to m. The campaign of the
// lead's latest send answers when it has auto-reply on; otherwise the
// workspace's oldest auto-reply campaign does. Only active and completed
// campaigns reply.
func (s *InboundService) autoReply(ctx context.Context, acc *model.EmailAccount, lead *model.Lead, m *model.InboundMessage, latest *model.SentMessage) (bool, error) {
	c, err := s.replyingCampaign(ctx, acc.WorkspaceID, latest)
	if err != nil || c == nil {
		return false, err
	}

	draft := s.Generator.DraftReply(ctx, lead, m, c.Template)
	req := gateway.SendRequest{
		AccountID:  acc.ID,
		To:         m.FromEmail,
		Subject:    draft.Subject,
		Body:       draft.Body,
		HTMLBody:   draft.HTMLBody,
		CampaignID: &c.ID,
		LeadID:     &lead.ID,
		InReplyTo:  m.MessageID,
	}
	if latest != nil {
		req.ThreadID = latest.ThreadID
	}
	if _, err := s.Gateway.Send(ctx, req); err != nil {
		return false, err
	}
	return true, nil
}

func (s *InboundService) replyingCampaign(ctx context.Context, workspaceID string, latest *model.SentMessage) (*model.Campaign, error) {
	if latest != nil && latest.CampaignID != nil {
		c, err := s.CampaignRepo.GetByID(ctx, *latest.CampaignID)
		if err != nil && !appErrors.IsNotFound(err) {
			return nil, err
		}
		if err == nil && c.WorkspaceID == workspaceID && repliesAutomatically(c) {
			return c, nil
		}
	}
	return s.CampaignRepo.FindAutoReply(ctx, workspaceID)
}

func repliesAutomatically(c *model.Campaign) bool {
	return c.AutoReply && (c.Status == model.CampaignActive || c.Status == model.CampaignCompleted)
}
