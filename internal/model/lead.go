// internal/model/lead.go
package model

import "time"

type LeadStatus string

const (
	LeadNew           LeadStatus = "new"
	LeadContacted     LeadStatus = "contacted"
	LeadReplied       LeadStatus = "replied"
	LeadInterested    LeadStatus = "interested"
	LeadNotInterested LeadStatus = "not_interested"
	LeadConverted     LeadStatus = "converted"
)

var leadRank = map[LeadStatus]int{
	LeadNew:           0,
	LeadContacted:     1,
	LeadReplied:       2,
	LeadInterested:    3,
	LeadNotInterested: 3,
	LeadConverted:     4,
}

// CanTransition reports whether a lead may move from s to next.
// Moves go forward except that a reply may land on any reply state. Converted is terminal.
func (s LeadStatus) CanTransition(next LeadStatus) bool {
	switch {
	case s == LeadConverted:
		return false
	case s == next, next.IsReply():
		return true
	}
	return leadRank[next] > leadRank[s]
}

func (s LeadStatus) IsReply() bool {
	return s == LeadReplied || s == LeadInterested || s == LeadNotInterested
}

type Lead struct {
	ID              string     `db:"id" json:"id"`
	WorkspaceID     string     `db:"workspace_id" json:"workspace_id"`
	Email           string     `db:"email" json:"email"`
	FirstName       string     `db:"first_name" json:"first_name"`
	LastName        string     `db:"last_name" json:"last_name"`
	Company         string     `db:"company" json:"company"`
	Title           string     `db:"title" json:"title"`
	Industry        string     `db:"industry" json:"industry"`
	Status          LeadStatus `db:"status" json:"status"`
	LastContactedAt *time.Time `db:"last_contacted_at" json:"last_contacted_at,omitempty"`
	LastReplyAt     *time.Time `db:"last_reply_at" json:"last_reply_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// InCooldown reports whether the lead was contacted within window of now.
func (l *Lead) InCooldown(now time.Time, window time.Duration) bool {
	return l.LastContactedAt != nil && now.Sub(*l.LastContactedAt) < window
}
