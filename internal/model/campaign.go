// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

type ScheduleType string

const (
	ScheduleImmediate ScheduleType = "immediate"
	ScheduleScheduled ScheduleType = "scheduled"
	ScheduleDrip      ScheduleType = "drip"
)

func (s ScheduleType) Valid() bool {
	switch s {
	case ScheduleImmediate, ScheduleScheduled, ScheduleDrip:
		return true
	}
	return false
}

// Metadata keys written on the campaign.
const (
	MetaPauseReason = "pause_reason"
	MetaLastError   = "last_error"
	MetaErrorAt     = "error_at"

	PauseReasonManual = "manual"
	PauseReasonError  = "error"
)

type Campaign struct {
	ID               string            `db:"id" json:"id"`
	WorkspaceID      string            `db:"workspace_id" json:"workspace_id"`
	AccountID        string            `db:"account_id" json:"account_id"`
	Name             string            `db:"name" json:"name"`
	Description      string            `db:"description" json:"description"`
	LeadIDs          []string          `db:"lead_ids" json:"lead_ids"`
	ScheduleType     ScheduleType      `db:"schedule_type" json:"schedule_type"`
	ScheduledAt      *time.Time        `db:"scheduled_at" json:"scheduled_at,omitempty"`
	DripIntervalDays int               `db:"drip_interval_days" json:"drip_interval_days"`
	AutoReply        bool              `db:"auto_reply" json:"auto_reply"`
	AutoFollowup     bool              `db:"auto_followup" json:"auto_followup"`
	MaxFollowups     int               `db:"max_followups" json:"max_followups"`
	Status           CampaignStatus    `db:"status" json:"status"`
	EmailsSent       int               `db:"emails_sent" json:"emails_sent"`
	EmailsOpened     int               `db:"emails_opened" json:"emails_opened"`
	EmailsReplied    int               `db:"emails_replied" json:"emails_replied"`
	Template         TemplateConfig    `db:"template" json:"template"`
	Metadata         map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt        *time.Time        `db:"updated_at" json:"updated_at,omitempty"`
}

// PausedByError tells an error pause apart from a manual one.
func (c *Campaign) PausedByError() bool {
	return c.Status == CampaignPaused && c.Metadata[MetaPauseReason] == PauseReasonError
}
