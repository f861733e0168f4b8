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

type FollowupService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	LeadRepo     repository.LeadRepositoryInterface
	SentRepo     repository.SentMessageRepositoryInterface
	Gateway      Sender
	Generator    Drafter
	Locks        lock.Locker
	Policy       config.Policy
	Logger       *zap.Logger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewFollowupService(store repository.Store, gw Sender, gen Drafter, locks lock.Locker, policy config.Policy, logger *zap.Logger) *FollowupService {
	return &FollowupService{
		CampaignRepo: store.Campaigns,
		LeadRepo:     store.Leads,
		SentRepo:     store.Sent,
		Gateway:      gw,
		Generator:    gen,
		Locks:        locks,
		Policy:       policy,
		Logger:       logging.OrNop(logger),
		Now:          func() time.Time { return time.Now().UTC() },
		Sleep:        sleepContext,
	}
}

type FollowupResult struct {
	CampaignID  string `json:"campaign_id"`
	Candidates  int    `json:"candidates"`
	Sent        int    `json:"sent"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
	Deferred    bool   `json:"deferred"`
	Interrupted bool   `json:"interrupted"`
}

// ScheduleFollowups sends the next follow-up on every unanswered thread of
// the campaign whose last message is older than the drip interval. A thread
// holding max_followups messages gets no more.
func (s *FollowupService) ScheduleFollowups(ctx context.Context, campaignID string) (*FollowupResult, error) {
	release, ok, err := s.Locks.TryAcquire(ctx, "followups:"+campaignID)
	if err != nil {
		return nil, fmt.Errorf("acquire follow-up lock: %w", err)
	}
	if !ok {
		return nil, appErrors.ErrCampaignBusy
	}
	defer release()

	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	res := &FollowupResult{CampaignID: campaignID}
	if !takesFollowups(c) {
		return res, nil
	}

	logger := s.Logger.With(zap.String("campaign_id", campaignID))
	cutoff := s.Now().Add(-time.Duration(c.DripIntervalDays) * 24 * time.Hour)
	candidates, err := s.SentRepo.FollowupCandidates(ctx, c.ID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("follow-up candidates: %w", err)
	}
	res.Candidates = len(candidates)

	attempted := false
	for _, m := range candidates {
		if m.LeadID == nil {
			continue
		}
		count, err := s.SentRepo.CountThread(ctx, m.ThreadID, *m.LeadID)
		if err != nil {
			return res, fmt.Errorf("count thread: %w", err)
		}
		if count >= c.MaxFollowups {
			res.Skipped++
			continue
		}

		lead, err := s.LeadRepo.GetByID(ctx, *m.LeadID)
		if appErrors.IsNotFound(err) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("load lead: %w", err)
		}
		if lead.Status.IsReply() || lead.Status == model.LeadConverted {
			res.Skipped++
			continue
		}

		if attempted {
			if s.Policy.SendDelay > 0 {
				if err := s.Sleep(ctx, s.Policy.SendDelay); err != nil {
					return res, err
				}
			}
			runnable, err := s.stillRunnable(ctx, c.ID)
			if err != nil {
				return res, err
			}
			if !runnable {
				logger.Info("campaign stopped taking follow-ups during run")
				res.Interrupted = true
				break
			}
		}
		attempted = true

		draft := s.Generator.DraftFollowup(ctx, lead, m, count, c.Template)
		req := gateway.SendRequest{
			AccountID:  c.AccountID,
			To:         lead.Email,
			Subject:    draft.Subject,
			Body:       draft.Body,
			HTMLBody:   draft.HTMLBody,
			CampaignID: &c.ID,
			LeadID:     &lead.ID,
			ThreadID:   m.ThreadID,
			InReplyTo:  m.MessageID,
		}
		sent, sendErr := s.Gateway.Send(ctx, req)
		if appErrors.IsRateLimited(sendErr) {
			res.Deferred = true
			break
		}
		if sendErr != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if sent == nil {
				if err := recordFailure(ctx, s.SentRepo, req, sendErr, s.Now()); err != nil {
					return res, err
				}
			}
			logger.Warn("follow-up failed", zap.String("lead_id", lead.ID), zap.Error(sendErr))
			res.Failed++
			continue
		}
		res.Sent++
		if err := s.LeadRepo.MarkContacted(ctx, lead.ID, sent.SentAt); err != nil {
			return res, fmt.Errorf("mark lead contacted: %w", err)
		}
	}

	logger.Info("follow-ups scheduled",
		zap.Int("candidates", res.Candidates),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Bool("deferred", res.Deferred))
	return res, nil
}

// stillRunnable re-reads the campaign between sends so a pause or delete
// stops the run before the next follow-up.
func (s *FollowupService) stillRunnable(ctx context.Context, id string) (bool, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if appErrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("re-read campaign: %w", err)
	}
	return takesFollowups(c), nil
}

func takesFollowups(c *model.Campaign) bool {
	return c.AutoFollowup && (c.Status == model.CampaignActive || c.Status == model.CampaignCompleted)
}
