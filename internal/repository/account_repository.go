package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

type AccountRepository struct {
	DB *sql.DB
}

const accountColumns = `id, owner_id, workspace_id, email, provider, access_token_enc, refresh_token_enc,
	token_expiry, enabled, daily_limit, created_at`

func (r *AccountRepository) Create(ctx context.Context, acc *model.EmailAccount) error {
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO email_accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.DB.ExecContext(ctx, query, acc.ID, acc.OwnerID, acc.WorkspaceID, acc.Email, acc.Provider,
		acc.AccessTokenEnc, acc.RefreshTokenEnc, acc.TokenExpiry, acc.Enabled, acc.DailyLimit, acc.CreatedAt)
	return err
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*model.EmailAccount, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM email_accounts WHERE id=$1`, id)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewNotFound("account", id)
	}
	return acc, err
}

func (r *AccountRepository) ListEnabled(ctx context.Context) ([]*model.EmailAccount, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+accountColumns+` FROM email_accounts WHERE enabled ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []*model.EmailAccount{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

func (r *AccountRepository) UpdateAccessToken(ctx context.Context, id string, enc []byte, expiry *time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE email_accounts SET access_token_enc=$1, token_expiry=$2 WHERE id=$3`, enc, expiry, id)
	if err != nil {
		return err
	}
	return expectRow(res, "account", id)
}

func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM email_accounts WHERE id=$1`, id)
	if err != nil {
		return err
	}
	return expectRow(res, "account", id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*model.EmailAccount, error) {
	var acc model.EmailAccount
	if err := s.Scan(&acc.ID, &acc.OwnerID, &acc.WorkspaceID, &acc.Email, &acc.Provider, &acc.AccessTokenEnc,
		&acc.RefreshTokenEnc, &acc.TokenExpiry, &acc.Enabled, &acc.DailyLimit, &acc.CreatedAt); err != nil {
		return nil, err
	}
	return &acc, nil
}

func expectRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewNotFound(entity, id)
	}
	return nil
}

var _ AccountRepositoryInterface = (*AccountRepository)(nil)
