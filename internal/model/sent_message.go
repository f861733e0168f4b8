// internal/model/sent_message.go
package model

import "time"

type SentStatus string

const (
	SentOK     SentStatus = "sent"
	SentFailed SentStatus = "failed"
)

type SentMessage struct {
	ID                string     `db:"id" json:"id"`
	AccountID         string     `db:"account_id" json:"account_id"`
	CampaignID        *string    `db:"campaign_id" json:"campaign_id,omitempty"`
	LeadID            *string    `db:"lead_id" json:"lead_id,omitempty"`
	ToEmail           string     `db:"to_email" json:"to_email"`
	Subject           string     `db:"subject" json:"subject"`
	Body              string     `db:"body" json:"body"`
	HTMLBody          string     `db:"html_body" json:"html_body,omitempty"`
	MessageID         string     `db:"message_id" json:"message_id"`
	ProviderMessageID string     `db:"provider_message_id" json:"provider_message_id,omitempty"`
	ThreadID          string     `db:"thread_id" json:"thread_id"`
	InReplyTo         string     `db:"in_reply_to" json:"in_reply_to,omitempty"`
	Status            SentStatus `db:"status" json:"status"`
	Error             string     `db:"error" json:"error,omitempty"`
	SentAt            time.Time  `db:"sent_at" json:"sent_at"`
	RepliedAt         *time.Time `db:"replied_at" json:"replied_at,omitempty"`
}
