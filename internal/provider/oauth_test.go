package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
)

func TestOAuth_Refresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		if r.PostForm.Get("refresh_token") != "good" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()
	o := NewOAuth("gmail", "cid", "secret", srv.URL, "")

	access, expiry, err := o.Refresh(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "fresh", access)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiry, time.Minute)

	_, _, err = o.Refresh(context.Background(), "revoked")
	assert.True(t, appErrors.IsAuthFailed(err), "got %v", err)

	_, _, err = o.Refresh(context.Background(), "")
	assert.True(t, appErrors.IsAuthFailed(err))
}

func TestOAuth_Revoke(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r.PostForm.Get("token")
		if got == "unknown" {
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()
	o := NewOAuth("gmail", "cid", "secret", "", srv.URL)

	require.NoError(t, o.Revoke(context.Background(), "refresh-1"))
	assert.Equal(t, "refresh-1", got)

	err := o.Revoke(context.Background(), "unknown")
	assert.True(t, appErrors.IsProviderError(err))
}
