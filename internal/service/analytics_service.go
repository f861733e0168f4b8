package service

import (
	"context"
	"fmt"
	"math"
	"time"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

// Timeframes accepted by GetAnalytics. "all" has no lower bound.
var timeframes = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
	"all": 0,
}

const DefaultTimeframe = "30d"

type AnalyticsService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	SentRepo     repository.SentMessageRepositoryInterface
	InboundRepo  repository.InboundMessageRepositoryInterface

	Now func() time.Time
}

func NewAnalyticsService(store repository.Store) *AnalyticsService {
	return &AnalyticsService{
		CampaignRepo: store.Campaigns,
		SentRepo:     store.Sent,
		InboundRepo:  store.Inbound,
		Now:          func() time.Time { return time.Now().UTC() },
	}
}

// GetAnalytics aggregates a workspace's sending and reply activity.
func (s *AnalyticsService) GetAnalytics(ctx context.Context, workspaceID, timeframe string) (*model.Analytics, error) {
	if workspaceID == "" {
		return nil, appErrors.NewValidation("workspace_id", "is required")
	}
	if timeframe == "" {
		timeframe = DefaultTimeframe
	}
	window, ok := timeframes[timeframe]
	if !ok {
		return nil, appErrors.NewValidation("timeframe", fmt.Sprintf("unsupported timeframe %q", timeframe))
	}
	var since *time.Time
	if window > 0 {
		t := s.Now().Add(-window)
		since = &t
	}

	totals, err := s.SentRepo.Totals(ctx, workspaceID, since)
	if err != nil {
		return nil, fmt.Errorf("send totals: %w", err)
	}
	breakdown, err := s.InboundRepo.SentimentBreakdown(ctx, workspaceID, since)
	if err != nil {
		return nil, fmt.Errorf("sentiment breakdown: %w", err)
	}
	byStatus, err := s.CampaignRepo.CountByStatus(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("campaign counts: %w", err)
	}

	return &model.Analytics{
		WorkspaceID:     workspaceID,
		Timeframe:       timeframe,
		Since:           since,
		EmailsSent:      totals.Sent,
		EmailsFailed:    totals.Failed,
		Replies:         totals.Replied,
		ReplyRate:       replyRate(totals.Replied, totals.Threads),
		Sentiment:       breakdown,
		CampaignsByStat: byStatus,
	}, nil
}

// replyRate is the percentage of threads with a reply, rounded to two decimals.
func replyRate(replied, threads int) float64 {
	if threads == 0 {
		return 0
	}
	return math.Round(float64(replied)/float64(threads)*10000) / 100
}
