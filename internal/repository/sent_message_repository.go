package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/outreach-engine/internal/model"
)

type SentMessageRepository struct {
	DB *sql.DB
}

const sentColumns = `id, account_id, campaign_id, lead_id, to_email, subject, body, html_body, message_id,
	provider_message_id, thread_id, in_reply_to, status, error, sent_at, replied_at`

// Create inserts a sent or failed message record.
func (r *SentMessageRepository) Create(ctx context.Context, m *model.SentMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}
	query := `
		INSERT INTO sent_messages (` + sentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.DB.ExecContext(ctx, query, m.ID, m.AccountID, m.CampaignID, m.LeadID, m.ToEmail, m.Subject,
		m.Body, m.HTMLBody, m.MessageID, m.ProviderMessageID, m.ThreadID, m.InReplyTo, m.Status, m.Error,
		m.SentAt, m.RepliedAt)
	return err
}

func (r *SentMessageRepository) CountSentSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM sent_messages
		WHERE account_id=$1 AND status='sent' AND sent_at >= $2`, accountID, since).Scan(&count)
	return count, err
}

func (r *SentMessageRepository) LatestForLead(ctx context.Context, leadID string) (*model.SentMessage, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+sentColumns+` FROM sent_messages
		WHERE lead_id=$1 AND status='sent' ORDER BY sent_at DESC LIMIT 1`, leadID)
	m, err := scanSent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (r *SentMessageRepository) MarkRepliedByLead(ctx context.Context, leadID string, at time.Time) (int, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE sent_messages SET replied_at=$1 WHERE lead_id=$2 AND replied_at IS NULL`, at, leadID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *SentMessageRepository) FollowupCandidates(ctx context.Context, campaignID string, sentBefore time.Time) ([]*model.SentMessage, error) {
	query := `
		SELECT ` + sentColumns + ` FROM (
			SELECT DISTINCT ON (thread_id) ` + sentColumns + `
			FROM sent_messages
			WHERE campaign_id=$1 AND lead_id IS NOT NULL AND status='sent'
			ORDER BY thread_id, sent_at DESC
		) latest
		WHERE replied_at IS NULL AND sent_at <= $2
		ORDER BY sent_at, id
	`
	rows, err := r.DB.QueryContext(ctx, query, campaignID, sentBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []*model.SentMessage{}
	for rows.Next() {
		m, err := scanSent(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *SentMessageRepository) CountThread(ctx context.Context, threadID, leadID string) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM sent_messages
		WHERE thread_id=$1 AND lead_id=$2`, threadID, leadID).Scan(&count)
	return count, err
}

func (r *SentMessageRepository) GetCampaignStats(ctx context.Context, campaignID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM sent_messages WHERE campaign_id=$1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"sent": 0, "failed": 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (r *SentMessageRepository) Totals(ctx context.Context, workspaceID string, since *time.Time) (SendTotals, error) {
	var t SendTotals
	err := r.DB.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE s.status='sent'),
			COUNT(*) FILTER (WHERE s.status='failed'),
			COUNT(DISTINCT s.thread_id) FILTER (WHERE s.status='sent'),
			COUNT(DISTINCT s.thread_id) FILTER (WHERE s.replied_at IS NOT NULL)
		FROM sent_messages s
		JOIN email_accounts a ON a.id = s.account_id
		WHERE a.workspace_id=$1 AND ($2::timestamptz IS NULL OR s.sent_at >= $2)`,
		workspaceID, since).Scan(&t.Sent, &t.Failed, &t.Threads, &t.Replied)
	return t, err
}

func scanSent(s scanner) (*model.SentMessage, error) {
	var m model.SentMessage
	if err := s.Scan(&m.ID, &m.AccountID, &m.CampaignID, &m.LeadID, &m.ToEmail, &m.Subject, &m.Body, &m.HTMLBody,
		&m.MessageID, &m.ProviderMessageID, &m.ThreadID, &m.InReplyTo, &m.Status, &m.Error, &m.SentAt,
		&m.RepliedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

var _ SentMessageRepositoryInterface = (*SentMessageRepository)(nil)
