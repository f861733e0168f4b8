package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
)

// OAuth refreshes and revokes tokens against the provider's OAuth2 endpoints.
type OAuth struct {
	Provider  string
	Config    *oauth2.Config
	RevokeURL string
	Client    *http.Client
}

func NewOAuth(provider, clientID, clientSecret, tokenURL, revokeURL string) *OAuth {
	return &OAuth{
		Provider: provider,
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
		RevokeURL: revokeURL,
		Client:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Refresh exchanges a refresh token for a new access token. A rejected grant
// is reported as AuthFailed, anything else as ProviderError.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	if refreshToken == "" {
		return "", time.Time{}, appErrors.NewAuthFailed("", errors.New("no refresh token stored"))
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.Client)
	tok, err := o.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			code := rerr.Response.StatusCode
			if code == http.StatusBadRequest || code == http.StatusUnauthorized {
				return "", time.Time{}, appErrors.NewAuthFailed("", err)
			}
			return "", time.Time{}, appErrors.NewProviderError(o.Provider, code, err)
		}
		return "", time.Time{}, appErrors.NewProviderError(o.Provider, 0, err)
	}
	return tok.AccessToken, tok.Expiry, nil
}

// Revoke asks the provider to invalidate token.
func (o *OAuth) Revoke(ctx context.Context, token string) error {
	if o.RevokeURL == "" {
		return nil
	}
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := o.Client.Do(req)
	if err != nil {
		return appErrors.NewProviderError(o.Provider, 0, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return appErrors.NewProviderError(o.Provider, resp.StatusCode, fmt.Errorf("revoke returned %s", resp.Status))
	}
	return nil
}
