package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

// LeadRepository is the concrete implementation
type LeadRepository struct {
	DB *sql.DB
}

const leadColumns = `id, workspace_id, email, first_name, last_name, company, title, industry, status,
	last_contacted_at, last_reply_at, created_at`

func (r *LeadRepository) Create(ctx context.Context, l *model.Lead) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Status == "" {
		l.Status = model.LeadNew
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	l.Email = strings.ToLower(strings.TrimSpace(l.Email))
	query := `
		INSERT INTO leads (` + leadColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.DB.ExecContext(ctx, query, l.ID, l.WorkspaceID, l.Email, l.FirstName, l.LastName, l.Company,
		l.Title, l.Industry, l.Status, l.LastContactedAt, l.LastReplyAt, l.CreatedAt)
	return err
}

// GetByID fetches a lead by ID
func (r *LeadRepository) GetByID(ctx context.Context, id string) (*model.Lead, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id=$1`, id)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewNotFound("lead", id)
	}
	return l, err
}

func (r *LeadRepository) ListByIDs(ctx context.Context, workspaceID string, ids []string) ([]*model.Lead, error) {
	if len(ids) == 0 {
		return []*model.Lead{}, nil
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE workspace_id=$1 AND id = ANY($2)`, workspaceID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := []*model.Lead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

func (r *LeadRepository) FindByEmail(ctx context.Context, workspaceID, email string) (*model.Lead, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE workspace_id=$1 AND email=$2`,
		workspaceID, strings.ToLower(strings.TrimSpace(email)))
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // not found
	}
	return l, err
}

// MarkContacted stamps last_contacted_at and promotes a new lead to contacted.
func (r *LeadRepository) MarkContacted(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE leads
		SET last_contacted_at=$1, status = CASE WHEN status='new' THEN 'contacted' ELSE status END
		WHERE id=$2
	`
	res, err := r.DB.ExecContext(ctx, query, at, id)
	if err != nil {
		return err
	}
	return expectRow(res, "lead", id)
}

func (r *LeadRepository) RecordReply(ctx context.Context, id string, status model.LeadStatus, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE leads SET status=$1, last_reply_at=$2 WHERE id=$3`, status, at, id)
	if err != nil {
		return err
	}
	return expectRow(res, "lead", id)
}

func scanLead(s scanner) (*model.Lead, error) {
	var l model.Lead
	if err := s.Scan(&l.ID, &l.WorkspaceID, &l.Email, &l.FirstName, &l.LastName, &l.Company, &l.Title,
		&l.Industry, &l.Status, &l.LastContactedAt, &l.LastReplyAt, &l.CreatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

var _ LeadRepositoryInterface = (*LeadRepository)(nil)
