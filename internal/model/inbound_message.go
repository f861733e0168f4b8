// internal/model/inbound_message.go
package model

import "time"

type Sentiment string

const (
	SentimentInterested    Sentiment = "interested"
	SentimentNeutral       Sentiment = "neutral"
	SentimentNegative      Sentiment = "negative"
	SentimentNotInterested Sentiment = "not_interested"
)

// ParseSentiment coerces any label outside the fixed set to neutral.
func ParseSentiment(s string) Sentiment {
	switch Sentiment(s) {
	case SentimentInterested, SentimentNeutral, SentimentNegative, SentimentNotInterested:
		return Sentiment(s)
	}
	return SentimentNeutral
}

// LeadStatus maps a reply sentiment onto the lead state machine.
func (s Sentiment) LeadStatus() LeadStatus {
	switch s {
	case SentimentInterested:
		return LeadInterested
	case SentimentNegative:
		return LeadNotInterested
	}
	return LeadReplied
}

type InboundMessage struct {
	ID             string            `db:"id" json:"id"`
	AccountID      string            `db:"account_id" json:"account_id"`
	FromEmail      string            `db:"from_email" json:"from_email"`
	ToEmail        string            `db:"to_email" json:"to_email"`
	Subject        string            `db:"subject" json:"subject"`
	Body           string            `db:"body" json:"body"`
	MessageID      string            `db:"message_id" json:"message_id"`
	InReplyTo      string            `db:"in_reply_to" json:"in_reply_to,omitempty"`
	ReceivedAt     time.Time         `db:"received_at" json:"received_at"`
	Processed      bool              `db:"processed" json:"processed"`
	Sentiment      *Sentiment        `db:"sentiment" json:"sentiment,omitempty"`
	Summary        *string           `db:"ai_summary" json:"ai_summary,omitempty"`
	RequiresAction bool              `db:"requires_action" json:"requires_action"`
	Metadata       map[string]string `db:"metadata" json:"metadata,omitempty"`
}

// ProcessOutcome is what the inbound processor stores when it closes a message.
type ProcessOutcome struct {
	Sentiment      *Sentiment
	Summary        *string
	RequiresAction bool
	Error          string
}
