package vault_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/vault"
)

const secret = "test-secret-0123456789"

type fakeRevoker struct {
	token string
	err   error
}

func (f *fakeRevoker) Revoke(_ context.Context, token string) error {
	f.token = token
	return f.err
}

func newVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New(secret)
	require.NoError(t, err)
	return v
}

func TestVault_RoundTrip(t *testing.T) {
	v := newVault(t)
	acc := &model.EmailAccount{ID: "acc-1"}
	require.NoError(t, v.Store(acc, "access-abc", "refresh-xyz"))

	assert.NotContains(t, string(acc.AccessTokenEnc), "access-abc")
	assert.NotContains(t, string(acc.RefreshTokenEnc), "refresh-xyz")

	var got vault.Credentials
	err := v.Use(acc, func(c vault.Credentials) error {
		got = c
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "access-abc", got.AccessToken)
	assert.Equal(t, "refresh-xyz", got.RefreshToken)
}

func TestVault_NoRefreshToken(t *testing.T) {
	v := newVault(t)
	acc := &model.EmailAccount{ID: "acc-1"}
	require.NoError(t, v.Store(acc, "access-only", ""))
	assert.Nil(t, acc.RefreshTokenEnc)

	err := v.Use(acc, func(c vault.Credentials) error {
		assert.Equal(t, "access-only", c.AccessToken)
		assert.Empty(t, c.RefreshToken)
		return nil
	})
	require.NoError(t, err)
}

func TestVault_TamperedCiphertextIsCorrupt(t *testing.T) {
	v := newVault(t)
	acc := &model.EmailAccount{ID: "acc-1"}
	require.NoError(t, v.Store(acc, "access-abc", ""))

	acc.AccessTokenEnc[len(acc.AccessTokenEnc)-1] ^= 0xff

	called := false
	err := v.Use(acc, func(vault.Credentials) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, appErrors.IsCredentialCorrupt(err))
	assert.False(t, called, "callback must not see corrupted plaintext")
}

func TestVault_TruncatedCiphertextIsCorrupt(t *testing.T) {
	v := newVault(t)
	acc := &model.EmailAccount{ID: "acc-1", AccessTokenEnc: []byte("short")}
	err := v.Use(acc, func(vault.Credentials) error { return nil })
	assert.True(t, appErrors.IsCredentialCorrupt(err))
}

func TestVault_CiphertextBoundToAccount(t *testing.T) {
	v := newVault(t)
	a := &model.EmailAccount{ID: "acc-a"}
	require.NoError(t, v.Store(a, "token-a", ""))

	b := &model.EmailAccount{ID: "acc-b", AccessTokenEnc: a.AccessTokenEnc}
	err := v.Use(b, func(vault.Credentials) error { return nil })
	assert.True(t, appErrors.IsCredentialCorrupt(err))
}

func TestVault_WrongSecretIsCorrupt(t *testing.T) {
	acc := &model.EmailAccount{ID: "acc-1"}
	require.NoError(t, newVault(t).Store(acc, "access-abc", ""))

	other, err := vault.New("a-different-secret-value")
	require.NoError(t, err)
	err = other.Use(acc, func(vault.Credentials) error { return nil })
	assert.True(t, appErrors.IsCredentialCorrupt(err))
}

func TestVault_RotateAccess(t *testing.T) {
	v := newVault(t)
	acc := &model.EmailAccount{ID: "acc-1"}
	require.NoError(t, v.Store(acc, "old", "refresh"))
	before := append([]byte(nil), acc.AccessTokenEnc...)

	require.NoError(t, v.RotateAccess(acc, "new"))
	assert.NotEqual(t, before, acc.AccessTokenEnc)

	require.NoError(t, v.Use(acc, func(c vault.Credentials) error {
		assert.Equal(t, "new", c.AccessToken)
		assert.Equal(t, "refresh", c.RefreshToken)
		return nil
	}))
}

func TestVault_UsePropagatesCallbackError(t *testing.T) {
	v := newVault(t)
	acc := &model.EmailAccount{ID: "acc-1"}
	require.NoError(t, v.Store(acc, "access", ""))

	boom := errors.New("boom")
	err := v.Use(acc, func(vault.Credentials) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestVault_RevokePrefersRefreshToken(t *testing.T) {
	v := newVault(t)
	acc := &model.EmailAccount{ID: "acc-1"}
	require.NoError(t, v.Store(acc, "access", "refresh"))

	r := &fakeRevoker{}
	require.NoError(t, v.Revoke(context.Background(), acc, r))
	assert.Equal(t, "refresh", r.token)
	assert.Nil(t, acc.AccessTokenEnc)
	assert.Nil(t, acc.RefreshTokenEnc)
}

func TestCredentials_Redacted(t *testing.T) {
	c := vault.Credentials{AccessToken: "secret-access", RefreshToken: "secret-refresh"}
	for _, s := range []string{fmt.Sprint(c), fmt.Sprintf("%v", c), fmt.Sprintf("%+v", c), fmt.Sprintf("%#v", c)} {
		assert.NotContains(t, s, "secret")
	}
}

func TestNew_RejectsShortSecret(t *testing.T) {
	_, err := vault.New("short")
	assert.Error(t, err)
}
