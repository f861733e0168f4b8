package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/config"
	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/gateway"
	"github.com/unclebandit/outreach-engine/internal/logging"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/vault"
)

// Revoker invalidates an account's tokens at its provider.
type Revoker interface {
	Revoke(ctx context.Context, acc *model.EmailAccount) error
}

var _ Revoker = (*gateway.Gateway)(nil)

type AccountService struct {
	AccountRepo repository.AccountRepositoryInterface
	Vault       *vault.Vault
	Revoker     Revoker
	Policy      config.Policy
	Logger      *zap.Logger

	Now func() time.Time
}

func NewAccountService(store repository.Store, v *vault.Vault, r Revoker, policy config.Policy, logger *zap.Logger) *AccountService {
	return &AccountService{
		AccountRepo: store.Accounts,
		Vault:       v,
		Revoker:     r,
		Policy:      policy,
		Logger:      logging.OrNop(logger),
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

type ConnectAccountInput struct {
	OwnerID      string             `json:"owner_id"`
	WorkspaceID  string             `json:"workspace_id"`
	Email        string             `json:"email"`
	Provider     model.ProviderKind `json:"provider"`
	AccessToken  string             `json:"access_token"`
	RefreshToken string             `json:"refresh_token"`
	TokenExpiry  *time.Time         `json:"token_expiry,omitempty"`
	DailyLimit   int                `json:"daily_limit"`
}

// ConnectAccount seals the tokens and stores a new enabled account.
func (s *AccountService) ConnectAccount(ctx context.Context, in ConnectAccountInput) (*model.EmailAccount, error) {
	if in.WorkspaceID == "" {
		return nil, appErrors.NewValidation("workspace_id", "is required")
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(in.Email))
	if err != nil {
		return nil, appErrors.NewValidation("email", "is not a valid address")
	}
	if !in.Provider.Valid() {
		return nil, appErrors.NewValidation("provider", fmt.Sprintf("unsupported provider %q", in.Provider))
	}
	if in.DailyLimit < 0 {
		return nil, appErrors.NewValidation("daily_limit", "must not be negative")
	}
	if in.DailyLimit == 0 {
		in.DailyLimit = s.Policy.DefaultDailyLimit
	}

	acc := &model.EmailAccount{
		ID:          uuid.NewString(),
		OwnerID:     in.OwnerID,
		WorkspaceID: in.WorkspaceID,
		Email:       strings.ToLower(addr.Address),
		Provider:    in.Provider,
		TokenExpiry: in.TokenExpiry,
		Enabled:     true,
		DailyLimit:  in.DailyLimit,
		CreatedAt:   s.Now(),
	}
	if err := s.Vault.Store(acc, in.AccessToken, in.RefreshToken); err != nil {
		return nil, err
	}
	if err := s.AccountRepo.Create(ctx, acc); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	s.Logger.Info("account connected",
		zap.String("account_id", acc.ID),
		zap.String("provider", string(acc.Provider)))
	return acc, nil
}

// DisconnectAccount asks the provider to revoke the tokens and deletes the
// account. A failed revoke is logged and does not block the delete.
func (s *AccountService) DisconnectAccount(ctx context.Context, id string) error {
	acc, err := s.AccountRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if s.Revoker != nil {
		if err := s.Revoker.Revoke(ctx, acc); err != nil {
			s.Logger.Warn("token revoke failed", zap.String("account_id", id), zap.Error(err))
		}
	}
	if err := s.AccountRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.Logger.Info("account disconnected", zap.String("account_id", id))
	return nil
}
