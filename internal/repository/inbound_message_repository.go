package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/outreach-engine/internal/model"
)

type InboundMessageRepository struct {
	DB *sql.DB
}

const inboundColumns = `id, account_id, from_email, to_email, subject, body, message_id, in_reply_to, received_at,
	processed, sentiment, ai_summary, requires_action, metadata`

func (r *InboundMessageRepository) CreateIfNotExists(ctx context.Context, m *model.InboundMessage) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	meta, err := marshalJSON(nonNilMap(m.Metadata))
	if err != nil {
		return false, fmt.Errorf("encode metadata: %w", err)
	}
	query := `
		INSERT INTO inbound_messages (` + inboundColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (account_id, message_id) DO NOTHING
	`
	res, err := r.DB.ExecContext(ctx, query, m.ID, m.AccountID, m.FromEmail, m.ToEmail, m.Subject, m.Body,
		m.MessageID, m.InReplyTo, m.ReceivedAt, m.Processed, m.Sentiment, m.Summary, m.RequiresAction, meta)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *InboundMessageRepository) LatestReceivedAt(ctx context.Context, accountID string) (*time.Time, error) {
	var latest sql.NullTime
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(received_at) FROM inbound_messages WHERE account_id=$1`, accountID).Scan(&latest); err != nil {
		return nil, err
	}
	if !latest.Valid {
		return nil, nil
	}
	return &latest.Time, nil
}

func (r *InboundMessageRepository) ListUnprocessed(ctx context.Context, accountID string, limit int) ([]*model.InboundMessage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+inboundColumns+` FROM inbound_messages
		WHERE account_id=$1 AND NOT processed
		ORDER BY received_at, id
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []*model.InboundMessage{}
	for rows.Next() {
		m, err := scanInbound(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkProcessed only ever flips false to true.
func (r *InboundMessageRepository) MarkProcessed(ctx context.Context, id string, outcome model.ProcessOutcome) (bool, error) {
	var errMeta any
	if outcome.Error != "" {
		raw, err := marshalJSON(map[string]string{"error": outcome.Error})
		if err != nil {
			return false, err
		}
		errMeta = string(raw)
	}
	query := `
		UPDATE inbound_messages
		SET processed=TRUE, sentiment=$1, ai_summary=$2, requires_action=$3,
			metadata = metadata || COALESCE($4::jsonb, '{}'::jsonb)
		WHERE id=$5 AND processed=FALSE
	`
	res, err := r.DB.ExecContext(ctx, query, outcome.Sentiment, outcome.Summary, outcome.RequiresAction, errMeta, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *InboundMessageRepository) SentimentBreakdown(ctx context.Context, workspaceID string, since *time.Time) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT i.sentiment, COUNT(*)
		FROM inbound_messages i
		JOIN email_accounts a ON a.id = i.account_id
		WHERE a.workspace_id=$1 AND i.sentiment IS NOT NULL AND ($2::timestamptz IS NULL OR i.received_at >= $2)
		GROUP BY i.sentiment`, workspaceID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{
		string(model.SentimentInterested):    0,
		string(model.SentimentNeutral):       0,
		string(model.SentimentNegative):      0,
		string(model.SentimentNotInterested): 0,
	}
	for rows.Next() {
		var label string
		var count int
		if err := rows.Scan(&label, &count); err != nil {
			return nil, err
		}
		out[label] = count
	}
	return out, rows.Err()
}

func scanInbound(s scanner) (*model.InboundMessage, error) {
	var m model.InboundMessage
	var sentiment sql.NullString
	var meta []byte
	if err := s.Scan(&m.ID, &m.AccountID, &m.FromEmail, &m.ToEmail, &m.Subject, &m.Body, &m.MessageID,
		&m.InReplyTo, &m.ReceivedAt, &m.Processed, &sentiment, &m.Summary, &m.RequiresAction, &meta); err != nil {
		return nil, err
	}
	if sentiment.Valid {
		s := model.ParseSentiment(sentiment.String)
		m.Sentiment = &s
	}
	md, err := unmarshalMap(meta)
	if err != nil {
		return nil, fmt.Errorf("decode metadata of inbound %s: %w", m.ID, err)
	}
	m.Metadata = md
	return &m, nil
}

var _ InboundMessageRepositoryInterface = (*InboundMessageRepository)(nil)
