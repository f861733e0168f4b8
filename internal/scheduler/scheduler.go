// Package scheduler periodically turns stored state into queued jobs: due
// scheduled launches, campaign passes, follow-up runs and inbox polls.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/logging"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, job queue.Job) error
}

type Scheduler struct {
	Campaigns repository.CampaignRepositoryInterface
	Accounts  repository.AccountRepositoryInterface
	Queue     Publisher
	Policy    config.Policy
	Logger    *zap.Logger

	Now func() time.Time
}

func New(store repository.Store, q Publisher, policy config.Policy, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		Campaigns: store.Campaigns,
		Accounts:  store.Accounts,
		Queue:     q,
		Policy:    policy,
		Logger:    logging.OrNop(logger),
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// TickResult counts what one tick queued.
type TickResult struct {
	Launched  int
	Passes    int
	Followups int
	Ingests   int
	Failed    int
}

// Run ticks once immediately and then every SchedulerInterval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Policy.SchedulerInterval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil {
			s.Logger.Error("scheduler tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick launches scheduled campaigns that are due and queues one job per
// runnable campaign and enabled account. Publish failures are counted and the
// first one is returned after every job has been attempted.
func (s *Scheduler) Tick(ctx context.Context) (*TickResult, error) {
	res := &TickResult{}

	launched, err := s.launchDue(ctx)
	if err != nil {
		return res, err
	}
	res.Launched = launched

	campaigns, err := s.Campaigns.ListByStatus(ctx, model.CampaignActive, model.CampaignCompleted)
	if err != nil {
		return res, fmt.Errorf("list runnable campaigns: %w", err)
	}
	accounts, err := s.Accounts.ListEnabled(ctx)
	if err != nil {
		return res, fmt.Errorf("list enabled accounts: %w", err)
	}

	var mu sync.Mutex
	count := func(n *int, err error) error {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			res.Failed++
			return err
		}
		*n++
		return nil
	}

	var g errgroup.Group
	g.SetLimit(max(s.Policy.WorkerConcurrency, 1))
	for _, c := range campaigns {
		if c.Status == model.CampaignActive {
			g.Go(func() error { return count(&res.Passes, s.publish(ctx, queue.TopicCampaignProcess, c.ID)) })
		}
		if c.AutoFollowup {
			g.Go(func() error { return count(&res.Followups, s.publish(ctx, queue.TopicCampaignFollowups, c.ID)) })
		}
	}
	for _, acc := range accounts {
		g.Go(func() error { return count(&res.Ingests, s.publish(ctx, queue.TopicAccountIngest, acc.ID)) })
	}
	err = g.Wait()

	s.Logger.Debug("scheduler tick",
		zap.Int("launched", res.Launched),
		zap.Int("passes", res.Passes),
		zap.Int("followups", res.Followups),
		zap.Int("ingests", res.Ingests),
		zap.Int("failed", res.Failed))
	return res, err
}

// launchDue activates draft campaigns whose scheduled time has passed. The
// guarded status change keeps two schedulers from launching the same one.
func (s *Scheduler) launchDue(ctx context.Context) (int, error) {
	due, err := s.Campaigns.ListDueScheduled(ctx, s.Now())
	if err != nil {
		return 0, fmt.Errorf("list due campaigns: %w", err)
	}
	n := 0
	for _, c := range due {
		ok, err := s.Campaigns.SetStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignDraft}, model.CampaignActive, nil)
		if err != nil {
			return n, fmt.Errorf("launch campaign %s: %w", c.ID, err)
		}
		if !ok {
			continue
		}
		s.Logger.Info("scheduled campaign launched", zap.String("campaign_id", c.ID))
		n++
	}
	return n, nil
}

func (s *Scheduler) publish(ctx context.Context, topic, id string) error {
	if err := s.Queue.Publish(ctx, topic, queue.Job{ID: id}); err != nil {
		s.Logger.Warn("failed to queue job", zap.String("topic", topic), zap.String("id", id), zap.Error(err))
		return fmt.Errorf("queue %s %s: %w", topic, id, err)
	}
	return nil
}
