// Package handler holds the HTTP handlers for accounts and analytics and the
// JSON response helpers shared with the campaign controller.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
)

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto a status code and writes {"error": message}.
// Unexpected errors are logged and their message is not exposed.
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		if logger != nil {
			logger.Error("request failed", zap.Error(err))
		}
		msg = "internal error"
	}
	WriteJSON(w, status, map[string]string{"error": msg})
}

func StatusFor(err error) int {
	switch {
	case appErrors.IsValidation(err), appErrors.IsInvalidTransition(err):
		return http.StatusBadRequest
	case appErrors.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, appErrors.ErrCampaignBusy), errors.Is(err, appErrors.ErrAccountBusy):
		return http.StatusConflict
	case appErrors.IsRateLimited(err):
		return http.StatusTooManyRequests
	case appErrors.IsCredentialCorrupt(err):
		return http.StatusFailedDependency
	case appErrors.IsProviderError(err), appErrors.IsAuthFailed(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Decode reads a JSON request body into v.
func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return appErrors.NewValidation("body", "invalid request body: "+err.Error())
	}
	return nil
}
