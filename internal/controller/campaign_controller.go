// internal/controller/campaign_controller.go
package controller

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/handler"
	"github.com/unclebandit/outreach-engine/internal/logging"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	FollowupService *service.FollowupService
	// Queue receives process and follow-up jobs. Without one they run inline.
	Queue  service.Publisher
	Logger *zap.Logger
}

func NewCampaignController(campaigns *service.CampaignService, followups *service.FollowupService, q service.Publisher, logger *zap.Logger) *CampaignController {
	return &CampaignController{
		CampaignService: campaigns,
		FollowupService: followups,
		Queue:           q,
		Logger:          logging.OrNop(logger),
	}
}

func (c *CampaignController) Routes(r chi.Router) {
	r.Post("/campaigns", c.CreateCampaign)
	r.Get("/campaigns", c.ListCampaigns)
	r.Get("/campaigns/{id}", c.GetCampaignDetails)
	r.Delete("/campaigns/{id}", c.DeleteCampaign)
	r.Post("/campaigns/{id}/send", c.SendCampaign)
	r.Post("/campaigns/{id}/pause", c.PauseCampaign)
	r.Post("/campaigns/{id}/resume", c.ResumeCampaign)
	r.Post("/campaigns/{id}/followups", c.ScheduleFollowups)
	r.Post("/campaigns/{id}/preview", c.PersonalizedPreview)
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.CreateCampaignInput
	if err := handler.Decode(r, &body); err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), body)
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}
	handler.WriteJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	// Parse query parameters
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	workspaceID := r.URL.Query().Get("workspace_id")
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, workspaceID, status)
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination, // already contains total_count, total_pages, page, page_size
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	details, err := c.CampaignService.GetCampaignDetailsWithStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, details)
}

func (c *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := c.CampaignService.DeleteCampaign(r.Context(), chi.URLParam(r, "id")); err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendCampaign queues a pass over the campaign's leads.
func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if c.Queue != nil {
		c.queue(w, r, queue.TopicCampaignProcess, id)
		return
	}

	result, err := c.CampaignService.ProcessCampaign(r.Context(), id)
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, result)
}

func (c *CampaignController) ScheduleFollowups(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if c.Queue != nil {
		c.queue(w, r, queue.TopicCampaignFollowups, id)
		return
	}

	result, err := c.FollowupService.ScheduleFollowups(r.Context(), id)
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, result)
}

func (c *CampaignController) queue(w http.ResponseWriter, r *http.Request, topic, id string) {
	// 404 before queueing a job for nothing.
	if _, err := c.CampaignService.CampaignRepo.GetByID(r.Context(), id); err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}
	if err := c.Queue.Publish(r.Context(), topic, queue.Job{ID: id}); err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}
	handler.WriteJSON(w, http.StatusAccepted, map[string]string{
		"campaign_id": id,
		"job":         topic,
		"status":      "queued",
	})
}

func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := c.CampaignService.PauseCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := c.CampaignService.ResumeCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, campaign)
}

// PersonalizedPreview drafts the campaign's message for one lead without sending it.
func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LeadID string `json:"lead_id"`
	}
	if err := handler.Decode(r, &body); err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}

	draft, err := c.CampaignService.PreviewDraft(r.Context(), chi.URLParam(r, "id"), body.LeadID)
	if err != nil {
		handler.WriteError(w, c.Logger, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{
		"lead_id": body.LeadID,
		"draft":   draft,
	})
}
