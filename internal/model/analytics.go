package model

import "time"

type Analytics struct {
	WorkspaceID     string         `json:"workspace_id"`
	Timeframe       string         `json:"timeframe"`
	Since           *time.Time     `json:"since,omitempty"`
	EmailsSent      int            `json:"emails_sent"`
	EmailsFailed    int            `json:"emails_failed"`
	Replies         int            `json:"replies"`
	ReplyRate       float64        `json:"reply_rate"`
	Sentiment       map[string]int `json:"sentiment"`
	CampaignsByStat map[string]int `json:"campaigns_by_status"`
}
