// Package service holds the engine's use cases: the campaign orchestrator,
// inbound processing, follow-ups, analytics and account connection.
package service

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/config"
	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/gateway"
	"github.com/unclebandit/outreach-engine/internal/generator"
	"github.com/unclebandit/outreach-engine/internal/lock"
	"github.com/unclebandit/outreach-engine/internal/logging"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/sentiment"
)

// Sender delivers one message through an account.
type Sender interface {
	Send(ctx context.Context, req gateway.SendRequest) (*model.SentMessage, error)
}

// Fetcher yields the messages an account received after since.
type Fetcher interface {
	FetchSince(ctx context.Context, accountID string, since *time.Time) iter.Seq2[*model.InboundMessage, error]
}

// Mailer sends and fetches through connected accounts.
type Mailer interface {
	Sender
	Fetcher
}

type Drafter interface {
	Draft(ctx context.Context, lead *model.Lead, tmpl model.TemplateConfig) generator.Draft
	DraftFollowup(ctx context.Context, lead *model.Lead, original *model.SentMessage, n int, tmpl model.TemplateConfig) generator.Draft
	DraftReply(ctx context.Context, lead *model.Lead, inbound *model.InboundMessage, tmpl model.TemplateConfig) generator.Draft
}

type Classifier interface {
	Classify(ctx context.Context, body string) sentiment.Classification
}

// Publisher enqueues background jobs. A nil Publisher means jobs are run by the caller.
type Publisher interface {
	Publish(ctx context.Context, topic string, job queue.Job) error
}

var (
	_ Sender     = (*gateway.Gateway)(nil)
	_ Mailer     = (*gateway.Gateway)(nil)
	_ Drafter    = (*generator.Generator)(nil)
	_ Classifier = (*sentiment.Classifier)(nil)
	_ Publisher  = (queue.Queue)(nil)
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	LeadRepo     repository.LeadRepositoryInterface
	AccountRepo  repository.AccountRepositoryInterface
	SentRepo     repository.SentMessageRepositoryInterface
	Gateway      Sender
	Generator    Drafter
	Queue        Publisher
	Locks        lock.Locker
	Policy       config.Policy
	Logger       *zap.Logger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewCampaignService(store repository.Store, gw Sender, gen Drafter, q Publisher, locks lock.Locker, policy config.Policy, logger *zap.Logger) *CampaignService {
	return &CampaignService{
		CampaignRepo: store.Campaigns,
		LeadRepo:     store.Leads,
		AccountRepo:  store.Accounts,
		SentRepo:     store.Sent,
		Gateway:      gw,
		Generator:    gen,
		Queue:        q,
		Locks:        locks,
		Policy:       policy,
		Logger:       logging.OrNop(logger),
		Now:          func() time.Time { return time.Now().UTC() },
		Sleep:        sleepContext,
	}
}

type CreateCampaignInput struct {
	WorkspaceID      string               `json:"workspace_id"`
	AccountID        string               `json:"account_id"`
	Name             string               `json:"name"`
	Description      string               `json:"description"`
	LeadIDs          []string             `json:"lead_ids"`
	ScheduleType     model.ScheduleType   `json:"schedule_type"`
	ScheduledAt      *time.Time           `json:"scheduled_at,omitempty"`
	DripIntervalDays int                  `json:"drip_interval_days"`
	AutoReply        bool                 `json:"auto_reply"`
	AutoFollowup     bool                 `json:"auto_followup"`
	MaxFollowups     int                  `json:"max_followups"`
	Template         model.TemplateConfig `json:"template"`
}

// ProcessResult summarizes one pass over a campaign's leads.
type ProcessResult struct {
	CampaignID string               `json:"campaign_id"`
	Sent       int                  `json:"sent"`
	Failed     int                  `json:"failed"`
	Skipped    int                  `json:"skipped"`
	Deferred   bool                 `json:"deferred"`
	Status     model.CampaignStatus `json:"status"`
}

type CampaignDetails struct {
	*model.Campaign
	Stats map[string]int `json:"stats"`
}

// ====================== lifecycle ======================

// CreateCampaign validates in and stores the campaign. Immediate campaigns
// start active and are queued for processing.
func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, appErrors.NewValidation("name", "is required")
	}
	if in.WorkspaceID == "" {
		return nil, appErrors.NewValidation("workspace_id", "is required")
	}
	if in.ScheduleType == "" {
		in.ScheduleType = model.ScheduleImmediate
	}
	if !in.ScheduleType.Valid() {
		return nil, appErrors.NewValidation("schedule_type", fmt.Sprintf("unknown schedule type %q", in.ScheduleType))
	}
	if in.ScheduleType == model.ScheduleScheduled && in.ScheduledAt == nil {
		return nil, appErrors.NewValidation("scheduled_at", "is required for scheduled campaigns")
	}
	if in.DripIntervalDays < 0 || in.MaxFollowups < 0 {
		return nil, appErrors.NewValidation("drip_interval_days", "and max_followups must not be negative")
	}

	acc, err := s.AccountRepo.GetByID(ctx, in.AccountID)
	if appErrors.IsNotFound(err) {
		return nil, appErrors.NewValidation("account_id", "account not found")
	}
	if err != nil {
		return nil, err
	}
	if !acc.Enabled {
		return nil, appErrors.NewValidation("account_id", "account is disabled")
	}
	if acc.WorkspaceID != in.WorkspaceID {
		return nil, appErrors.NewValidation("account_id", "account belongs to another workspace")
	}

	leadIDs, err := s.resolveLeads(ctx, in.WorkspaceID, in.LeadIDs)
	if err != nil {
		return nil, err
	}
	if len(leadIDs) == 0 {
		return nil, appErrors.NewValidation("lead_ids", "no leads found")
	}

	c := &model.Campaign{
		WorkspaceID:      in.WorkspaceID,
		AccountID:        acc.ID,
		Name:             name,
		Description:      in.Description,
		LeadIDs:          leadIDs,
		ScheduleType:     in.ScheduleType,
		ScheduledAt:      in.ScheduledAt,
		DripIntervalDays: in.DripIntervalDays,
		AutoReply:        in.AutoReply,
		AutoFollowup:     in.AutoFollowup,
		MaxFollowups:     in.MaxFollowups,
		Status:           model.CampaignDraft,
		Template:         in.Template.Normalize(),
		CreatedAt:        s.Now(),
	}
	if c.DripIntervalDays == 0 {
		c.DripIntervalDays = s.Policy.DefaultDripDays
	}
	if c.MaxFollowups == 0 {
		c.MaxFollowups = s.Policy.DefaultMaxFollowups
	}
	if c.ScheduleType == model.ScheduleImmediate {
		c.Status = model.CampaignActive
	}

	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	s.Logger.Info("campaign created",
		zap.String("campaign_id", c.ID),
		zap.String("status", string(c.Status)),
		zap.Int("leads", len(c.LeadIDs)))

	if c.Status == model.CampaignActive {
		s.enqueue(ctx, c.ID)
	}
	return c, nil
}

// resolveLeads keeps the ids that exist in the workspace, deduplicated, in
// request order.
func (s *CampaignService) resolveLeads(ctx context.Context, workspaceID string, ids []string) ([]string, error) {
	seen := make(map[string]bool, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return nil, nil
	}

	leads, err := s.LeadRepo.ListByIDs(ctx, workspaceID, unique)
	if err != nil {
		return nil, fmt.Errorf("resolve leads: %w", err)
	}
	found := make(map[string]bool, len(leads))
	for _, l := range leads {
		found[l.ID] = true
	}
	out := make([]string, 0, len(leads))
	for _, id := range unique {
		if found[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// PauseCampaign stops an active campaign before its next lead. Pausing a
// paused campaign changes nothing.
func (s *CampaignService) PauseCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case model.CampaignPaused:
		return c, nil
	case model.CampaignActive:
	default:
		return nil, appErrors.NewInvalidTransition(string(c.Status), string(model.CampaignPaused))
	}

	meta := cloneMeta(c.Metadata)
	meta[model.MetaPauseReason] = model.PauseReasonManual
	ok, err := s.CampaignRepo.SetStatus(ctx, id, []model.CampaignStatus{model.CampaignActive}, model.CampaignPaused, meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.settle(ctx, id, model.CampaignPaused)
	}
	s.Logger.Info("campaign paused", zap.String("campaign_id", id))
	return s.CampaignRepo.GetByID(ctx, id)
}

// ResumeCampaign activates a paused or draft campaign and queues a pass.
// Resuming an active campaign changes nothing.
func (s *CampaignService) ResumeCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case model.CampaignActive:
		return c, nil
	case model.CampaignPaused, model.CampaignDraft:
	default:
		return nil, appErrors.NewInvalidTransition(string(c.Status), string(model.CampaignActive))
	}

	meta := cloneMeta(c.Metadata)
	delete(meta, model.MetaPauseReason)
	ok, err := s.CampaignRepo.SetStatus(ctx, id,
		[]model.CampaignStatus{model.CampaignPaused, model.CampaignDraft}, model.CampaignActive, meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.settle(ctx, id, model.CampaignActive)
	}
	s.Logger.Info("campaign resumed", zap.String("campaign_id", id))
	s.enqueue(ctx, id)
	return s.CampaignRepo.GetByID(ctx, id)
}

// settle re-reads a campaign whose guarded transition lost a race.
func (s *CampaignService) settle(ctx context.Context, id string, want model.CampaignStatus) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != want {
		return nil, appErrors.NewInvalidTransition(string(c.Status), string(want))
	}
	return c, nil
}

// DeleteCampaign removes the campaign. Its sent messages are kept for
// analytics and lose their campaign reference.
func (s *CampaignService) DeleteCampaign(ctx context.Context, id string) error {
	if err := s.CampaignRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.Logger.Info("campaign deleted", zap.String("campaign_id", id))
	return nil
}

func (s *CampaignService) enqueue(ctx context.Context, id string) {
	if s.Queue == nil {
		return
	}
	if err := s.Queue.Publish(ctx, queue.TopicCampaignProcess, queue.Job{ID: id}); err != nil {
		s.Logger.Warn("failed to enqueue campaign", zap.String("campaign_id", id), zap.Error(err))
	}
}

// ====================== processing ======================

// ProcessCampaign runs one pass over an active campaign. Only one pass per
// campaign runs at a time; a concurrent call fails with ErrCampaignBusy.
// Campaigns in any other status are left untouched.
func (s *CampaignService) ProcessCampaign(ctx context.Context, id string) (*ProcessResult, error) {
	release, ok, err := s.Locks.TryAcquire(ctx, "campaign:"+id)
	if err != nil {
		return nil, fmt.Errorf("acquire campaign lock: %w", err)
	}
	if !ok {
		return nil, appErrors.ErrCampaignBusy
	}
	defer release()

	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &ProcessResult{CampaignID: id, Status: c.Status}
	if c.Status != model.CampaignActive {
		return res, nil
	}

	logger := s.Logger.With(zap.String("campaign_id", id))
	err = s.runPass(ctx, c, res, logger)
	if err != nil {
		if ctx.Err() != nil {
			return res, err
		}
		logger.Error("campaign pass failed", zap.Error(err))
		s.pauseOnError(ctx, c, err)
		res.Status = model.CampaignPaused
		return res, err
	}
	logger.Info("campaign pass finished",
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Bool("deferred", res.Deferred),
		zap.String("status", string(res.Status)))
	return res, nil
}

// runPass attempts every lead in list order. It returns an error only for
// failures that are not about a single lead.
func (s *CampaignService) runPass(ctx context.Context, c *model.Campaign, res *ProcessResult, logger *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during campaign pass: %v", r)
		}
	}()

	leads, err := s.LeadRepo.ListByIDs(ctx, c.WorkspaceID, c.LeadIDs)
	if err != nil {
		return fmt.Errorf("load leads: %w", err)
	}
	byID := make(map[string]*model.Lead, len(leads))
	for _, l := range leads {
		byID[l.ID] = l
	}

	processed := 0
	interrupted := false
	attempted := false
	for i, leadID := range c.LeadIDs {
		lead, ok := byID[leadID]
		eligible := ok && s.eligible(lead)
		if eligible && attempted && s.Policy.SendDelay > 0 {
			if err := s.Sleep(ctx, s.Policy.SendDelay); err != nil {
				return err
			}
		}

		// The status is read after the delay so a pause during it holds this lead.
		if i > 0 {
			cur, err := s.CampaignRepo.GetByID(ctx, c.ID)
			if appErrors.IsNotFound(err) {
				interrupted = true
				break
			}
			if err != nil {
				return fmt.Errorf("re-read campaign: %w", err)
			}
			if cur.Status != model.CampaignActive {
				logger.Info("campaign left active during pass", zap.String("status", string(cur.Status)))
				res.Status = cur.Status
				interrupted = true
				break
			}
		}

		if !eligible {
			res.Skipped++
			processed++
			continue
		}
		attempted = true

		draft := s.Generator.Draft(ctx, lead, c.Template)
		req := gateway.SendRequest{
			AccountID:  c.AccountID,
			To:         lead.Email,
			Subject:    draft.Subject,
			Body:       draft.Body,
			HTMLBody:   draft.HTMLBody,
			CampaignID: &c.ID,
			LeadID:     &lead.ID,
		}
		msg, sendErr := s.Gateway.Send(ctx, req)
		if appErrors.IsRateLimited(sendErr) {
			logger.Info("daily limit reached, deferring remaining leads", zap.Int("remaining", len(c.LeadIDs)-processed))
			res.Deferred = true
			break
		}
		if sendErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if msg == nil {
				if err := recordFailure(ctx, s.SentRepo, req, sendErr, s.Now()); err != nil {
					return err
				}
			}
			logger.Warn("send to lead failed", zap.String("lead_id", lead.ID), zap.Error(sendErr))
			res.Failed++
			processed++
			continue
		}

		res.Sent++
		processed++
		if err := s.LeadRepo.MarkContacted(ctx, lead.ID, msg.SentAt); err != nil {
			return fmt.Errorf("mark lead contacted: %w", err)
		}
		if err := s.CampaignRepo.IncrementSent(ctx, c.ID, 1); err != nil {
			if appErrors.IsNotFound(err) {
				interrupted = true
				break
			}
			return fmt.Errorf("increment emails sent: %w", err)
		}
	}

	if interrupted || res.Deferred || processed < len(c.LeadIDs) {
		return nil
	}
	ok, err := s.CampaignRepo.SetStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignActive}, model.CampaignCompleted, nil)
	if err != nil {
		return fmt.Errorf("complete campaign: %w", err)
	}
	if ok {
		res.Status = model.CampaignCompleted
	}
	return nil
}

func (s *CampaignService) eligible(lead *model.Lead) bool {
	switch lead.Status {
	case model.LeadNotInterested, model.LeadConverted:
		return false
	}
	return !lead.InCooldown(s.Now(), s.Policy.Cooldown)
}

// recordFailure stores a failed attempt the gateway rejected before
// reaching the provider.
func recordFailure(ctx context.Context, repo repository.SentMessageRepositoryInterface, req gateway.SendRequest, cause error, at time.Time) error {
	m := &model.SentMessage{
		AccountID:  req.AccountID,
		CampaignID: req.CampaignID,
		LeadID:     req.LeadID,
		ToEmail:    req.To,
		Subject:    req.Subject,
		Body:       req.Body,
		HTMLBody:   req.HTMLBody,
		ThreadID:   req.ThreadID,
		InReplyTo:  req.InReplyTo,
		Status:     model.SentFailed,
		Error:      cause.Error(),
		SentAt:     at,
	}
	if err := repo.Create(ctx, m); err != nil {
		return fmt.Errorf("record failed send: %w", err)
	}
	return nil
}

func (s *CampaignService) pauseOnError(ctx context.Context, c *model.Campaign, cause error) {
	ctx = context.WithoutCancel(ctx)
	meta := cloneMeta(c.Metadata)
	meta[model.MetaPauseReason] = model.PauseReasonError
	meta[model.MetaLastError] = cause.Error()
	meta[model.MetaErrorAt] = s.Now().Format(time.RFC3339)
	if _, err := s.CampaignRepo.SetStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignActive}, model.CampaignPaused, meta); err != nil {
		s.Logger.Error("failed to pause campaign after error", zap.String("campaign_id", c.ID), zap.Error(err))
	}
}

// ====================== queries ======================

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, workspaceID, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, workspaceID, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, id string) (*CampaignDetails, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.SentRepo.GetCampaignStats(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("campaign stats: %w", err)
	}

	stats := map[string]int{
		"total":   0,
		"sent":    0,
		"failed":  0,
		"replied": c.EmailsReplied,
		"leads":   len(c.LeadIDs),
	}
	for status, n := range counts {
		if _, ok := stats[status]; ok {
			stats[status] = n
		}
		stats["total"] += n
	}
	return &CampaignDetails{Campaign: c, Stats: stats}, nil
}

// PreviewDraft returns the message the campaign would send to a lead.
func (s *CampaignService) PreviewDraft(ctx context.Context, campaignID, leadID string) (*generator.Draft, error) {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	lead, err := s.LeadRepo.GetByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lead.WorkspaceID != c.WorkspaceID {
		return nil, appErrors.NewNotFound("lead", leadID)
	}
	d := s.Generator.Draft(ctx, lead, c.Template)
	return &d, nil
}

func cloneMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+3)
	maps.Copy(out, m)
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
