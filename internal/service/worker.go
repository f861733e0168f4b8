package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/logging"
	"github.com/unclebandit/outreach-engine/internal/queue"
)

// Worker turns queued jobs into service calls.
type Worker struct {
	Campaigns *CampaignService
	Inbound   *InboundService
	Followups *FollowupService
	Logger    *zap.Logger
}

func NewWorker(campaigns *CampaignService, inbound *InboundService, followups *FollowupService, logger *zap.Logger) *Worker {
	return &Worker{
		Campaigns: campaigns,
		Inbound:   inbound,
		Followups: followups,
		Logger:    logging.OrNop(logger),
	}
}

// Start subscribes the worker to every job topic on q.
func (w *Worker) Start(q queue.Queue) error {
	subs := map[string]queue.Handler{
		queue.TopicCampaignProcess:   w.HandleProcess,
		queue.TopicCampaignFollowups: w.HandleFollowups,
		queue.TopicAccountIngest:     w.HandleIngest,
	}
	for topic, h := range subs {
		if err := q.Subscribe(topic, h); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) HandleProcess(ctx context.Context, job queue.Job) error {
	_, err := w.Campaigns.ProcessCampaign(ctx, job.ID)
	return w.settle(queue.TopicCampaignProcess, job, err)
}

func (w *Worker) HandleFollowups(ctx context.Context, job queue.Job) error {
	_, err := w.Followups.ScheduleFollowups(ctx, job.ID)
	return w.settle(queue.TopicCampaignFollowups, job, err)
}

func (w *Worker) HandleIngest(ctx context.Context, job queue.Job) error {
	_, err := w.Inbound.Ingest(ctx, job.ID)
	return w.settle(queue.TopicAccountIngest, job, err)
}

// settle decides whether a job error is worth a retry. Busy and missing
// targets are dropped, as is a campaign the pass already paused.
func (w *Worker) settle(topic string, job queue.Job, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, appErrors.ErrCampaignBusy):
		w.Logger.Debug("job skipped, already running", zap.String("topic", topic), zap.String("id", job.ID))
		return nil
	case appErrors.IsNotFound(err):
		w.Logger.Info("job target no longer exists", zap.String("topic", topic), zap.String("id", job.ID))
		return nil
	case topic == queue.TopicCampaignProcess:
		// ProcessCampaign has paused the campaign with the error attached.
		w.Logger.Warn("campaign pass failed", zap.String("id", job.ID), zap.Error(err))
		return nil
	}
	return err
}
