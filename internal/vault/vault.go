// Package vault seals provider credentials at rest and opens them only for the
// duration of a single call.
//
// Ciphertext layout is nonce || XChaCha20-Poly1305(plaintext) with the account
// ID bound as additional data, so a token copied onto another account row fails
// to open. The key is derived with HKDF-SHA256 from a process-wide secret that
// is never stored next to the ciphertext.
package vault

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

const keyInfo = "outreach-engine/credential-vault/v1"

// Credentials is plaintext token material. It only exists inside a Use callback
// and prints as redacted under fmt and zap.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

func (Credentials) String() string   { return "Credentials{redacted}" }
func (Credentials) GoString() string { return "vault.Credentials{redacted}" }

func (c Credentials) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddBool("has_access", c.AccessToken != "")
	enc.AddBool("has_refresh", c.RefreshToken != "")
	return nil
}

// Revoker asks the provider to invalidate a token.
type Revoker interface {
	Revoke(ctx context.Context, token string) error
}

type Vault struct {
	aead cipher.AEAD
}

func New(secret string) (*Vault, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("vault secret must be at least 16 bytes")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	wipe(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Store seals the tokens onto the account record. An empty refresh token clears the column.
func (v *Vault) Store(acc *model.EmailAccount, access, refresh string) error {
	if access == "" {
		return appErrors.NewValidation("access_token", "is required")
	}
	sealed, err := v.seal(acc.ID, []byte(access))
	if err != nil {
		return err
	}
	acc.AccessTokenEnc = sealed
	acc.RefreshTokenEnc = nil
	if refresh != "" {
		if acc.RefreshTokenEnc, err = v.seal(acc.ID, []byte(refresh)); err != nil {
			return err
		}
	}
	return nil
}

// Use opens the account credentials, hands them to fn and wipes the decrypted
// buffers when fn returns, on every path.
func (v *Vault) Use(acc *model.EmailAccount, fn func(Credentials) error) error {
	access, err := v.open(acc.ID, acc.AccessTokenEnc)
	if err != nil {
		return err
	}
	defer wipe(access)

	var refresh []byte
	if len(acc.RefreshTokenEnc) > 0 {
		if refresh, err = v.open(acc.ID, acc.RefreshTokenEnc); err != nil {
			return err
		}
		defer wipe(refresh)
	}

	return fn(Credentials{AccessToken: string(access), RefreshToken: string(refresh)})
}

// RotateAccess replaces the sealed access token after a refresh.
func (v *Vault) RotateAccess(acc *model.EmailAccount, access string) error {
	if access == "" {
		return appErrors.NewValidation("access_token", "is required")
	}
	sealed, err := v.seal(acc.ID, []byte(access))
	if err != nil {
		return err
	}
	acc.AccessTokenEnc = sealed
	return nil
}

// Revoke asks the provider to invalidate the refresh token (or the access
// token when no refresh token is stored) and clears the ciphertext on acc.
func (v *Vault) Revoke(ctx context.Context, acc *model.EmailAccount, r Revoker) error {
	err := v.Use(acc, func(c Credentials) error {
		token := c.RefreshToken
		if token == "" {
			token = c.AccessToken
		}
		return r.Revoke(ctx, token)
	})
	acc.AccessTokenEnc = nil
	acc.RefreshTokenEnc = nil
	return err
}

func (v *Vault) seal(accountID string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plaintext)+v.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, []byte(accountID)), nil
}

func (v *Vault) open(accountID string, sealed []byte) ([]byte, error) {
	if len(sealed) < v.aead.NonceSize()+v.aead.Overhead() {
		return nil, appErrors.NewCredentialCorrupt(accountID)
	}
	nonce, ciphertext := sealed[:v.aead.NonceSize()], sealed[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, []byte(accountID))
	if err != nil {
		return nil, appErrors.NewCredentialCorrupt(accountID)
	}
	return plaintext, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
