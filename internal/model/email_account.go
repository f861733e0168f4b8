package model

import "time"

type ProviderKind string

const (
	ProviderGmail ProviderKind = "gmail"
	ProviderSMTP  ProviderKind = "smtp"
)

// EmailAccount is the credential record of one connected provider account.
// Token columns only ever hold vault ciphertext.
type EmailAccount struct {
	ID              string       `db:"id" json:"id"`
	OwnerID         string       `db:"owner_id" json:"owner_id"`
	WorkspaceID     string       `db:"workspace_id" json:"workspace_id"`
	Email           string       `db:"email" json:"email"`
	Provider        ProviderKind `db:"provider" json:"provider"`
	AccessTokenEnc  []byte       `db:"access_token_enc" json:"-"`
	RefreshTokenEnc []byte       `db:"refresh_token_enc" json:"-"`
	TokenExpiry     *time.Time   `db:"token_expiry" json:"token_expiry,omitempty"`
	Enabled         bool         `db:"enabled" json:"enabled"`
	DailyLimit      int          `db:"daily_limit" json:"daily_limit"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
}

// TokenExpired reports whether the stored access token is known to be stale.
func (a *EmailAccount) TokenExpired(now time.Time) bool {
	return a.TokenExpiry != nil && !a.TokenExpiry.After(now)
}

func (p ProviderKind) Valid() bool {
	return p == ProviderGmail || p == ProviderSMTP
}
