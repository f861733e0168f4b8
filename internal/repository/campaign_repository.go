package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, workspace_id, account_id, name, description, lead_ids, schedule_type, scheduled_at,
	drip_interval_days, auto_reply, auto_followup, max_followups, status, emails_sent, emails_opened,
	emails_replied, template, metadata, created_at, updated_at`

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	tmpl, err := marshalJSON(c.Template)
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	meta, err := marshalJSON(nonNilMap(c.Metadata))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	query := `
		INSERT INTO campaigns (` + campaignColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err = r.DB.ExecContext(ctx, query, c.ID, c.WorkspaceID, c.AccountID, c.Name, c.Description,
		pq.Array(c.LeadIDs), c.ScheduleType, c.ScheduledAt, c.DripIntervalDays, c.AutoReply, c.AutoFollowup,
		c.MaxFollowups, c.Status, c.EmailsSent, c.EmailsOpened, c.EmailsReplied, tmpl, meta, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id=$1`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, err
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, workspaceID, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	where := ` WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if workspaceID != "" {
		where += fmt.Sprintf(" AND workspace_id=$%d", argPos)
		args = append(args, workspaceID)
		argPos++
	}
	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	// Count total
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

func (r *CampaignRepository) ListByStatus(ctx context.Context, statuses ...model.CampaignStatus) ([]*model.Campaign, error) {
	return r.list(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE status = ANY($1) ORDER BY created_at`,
		pq.Array(statusStrings(statuses)))
}

func (r *CampaignRepository) ListDueScheduled(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	return r.list(ctx, `SELECT `+campaignColumns+` FROM campaigns
		WHERE status='draft' AND scheduled_at IS NOT NULL AND scheduled_at <= $1
		ORDER BY scheduled_at`, now)
}

func (r *CampaignRepository) FindAutoReply(ctx context.Context, workspaceID string) (*model.Campaign, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns
		WHERE workspace_id=$1 AND status IN ('active','completed') AND auto_reply
		ORDER BY created_at LIMIT 1`, workspaceID)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *CampaignRepository) SetStatus(ctx context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus, metadata map[string]string) (bool, error) {
	var meta any
	if metadata != nil {
		raw, err := marshalJSON(metadata)
		if err != nil {
			return false, fmt.Errorf("encode metadata: %w", err)
		}
		meta = string(raw)
	}
	query := `
		UPDATE campaigns
		SET status=$1, metadata=COALESCE($2::jsonb, metadata), updated_at=NOW()
		WHERE id=$3 AND (cardinality($4::text[]) = 0 OR status = ANY($4))
	`
	res, err := r.DB.ExecContext(ctx, query, to, meta, id, pq.Array(statusStrings(from)))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *CampaignRepository) IncrementSent(ctx context.Context, id string, n int) error {
	query := `
		UPDATE campaigns
		SET emails_sent = LEAST(emails_sent + $1, cardinality(lead_ids)), updated_at=NOW()
		WHERE id=$2
	`
	res, err := r.DB.ExecContext(ctx, query, n, id)
	if err != nil {
		return err
	}
	return expectRow(res, "campaign", id)
}

func (r *CampaignRepository) IncrementReplied(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE campaigns SET emails_replied = emails_replied + 1, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	return expectRow(res, "campaign", id)
}

func (r *CampaignRepository) CountByStatus(ctx context.Context, workspaceID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM campaigns WHERE workspace_id=$1 GROUP BY status`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"draft": 0, "active": 0, "paused": 0, "completed": 0}
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

func (r *CampaignRepository) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM campaigns WHERE id=$1`, id)
	if err != nil {
		return err
	}
	return expectRow(res, "campaign", id)
}

func (r *CampaignRepository) list(ctx context.Context, query string, args ...any) ([]*model.Campaign, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func scanCampaign(s scanner) (*model.Campaign, error) {
	var c model.Campaign
	var tmpl, meta []byte
	if err := s.Scan(&c.ID, &c.WorkspaceID, &c.AccountID, &c.Name, &c.Description, pq.Array(&c.LeadIDs),
		&c.ScheduleType, &c.ScheduledAt, &c.DripIntervalDays, &c.AutoReply, &c.AutoFollowup, &c.MaxFollowups,
		&c.Status, &c.EmailsSent, &c.EmailsOpened, &c.EmailsReplied, &tmpl, &meta, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if len(tmpl) > 0 {
		if err := json.Unmarshal(tmpl, &c.Template); err != nil {
			return nil, fmt.Errorf("decode template of campaign %s: %w", c.ID, err)
		}
	}
	m, err := unmarshalMap(meta)
	if err != nil {
		return nil, fmt.Errorf("decode metadata of campaign %s: %w", c.ID, err)
	}
	c.Metadata = m
	return &c, nil
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
