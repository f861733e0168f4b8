// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrCampaignBusy is returned when another pass already holds the campaign.
var ErrCampaignBusy = errors.New("campaign is already being processed")

// ErrAccountBusy is returned when another ingest already holds the account.
var ErrAccountBusy = errors.New("account is already being ingested")

// ValidationError rejects bad input before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// NotFoundError is a sentinel-style error for missing rows.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

func NewNotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// Helper constructor
func NewCampaignNotFound(id string) error {
	return &NotFoundError{Entity: "campaign", ID: id}
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// CredentialCorruptError means the stored ciphertext could not be opened.
// The account has to be reconnected.
type CredentialCorruptError struct {
	AccountID string
}

func (e *CredentialCorruptError) Error() string {
	if e.AccountID == "" {
		return "credential corrupt: please reconnect the account"
	}
	return fmt.Sprintf("credential corrupt for account %s: please reconnect the account", e.AccountID)
}

func NewCredentialCorrupt(accountID string) error {
	return &CredentialCorruptError{AccountID: accountID}
}

func IsCredentialCorrupt(err error) bool {
	var target *CredentialCorruptError
	return errors.As(err, &target)
}

// RateLimitedError is returned when the account reached its daily cap.
type RateLimitedError struct {
	AccountID string
	Limit     int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("account %s reached its daily limit of %d sends", e.AccountID, e.Limit)
}

func NewRateLimited(accountID string, limit int) error {
	return &RateLimitedError{AccountID: accountID, Limit: limit}
}

func IsRateLimited(err error) bool {
	var target *RateLimitedError
	return errors.As(err, &target)
}

// AuthFailedError is returned by a provider when the access token is rejected.
type AuthFailedError struct {
	AccountID string
	Err       error
}

func (e *AuthFailedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("authentication failed for account %s", e.AccountID)
	}
	return fmt.Sprintf("authentication failed for account %s: %v", e.AccountID, e.Err)
}

func (e *AuthFailedError) Unwrap() error { return e.Err }

func NewAuthFailed(accountID string, err error) error {
	return &AuthFailedError{AccountID: accountID, Err: err}
}

func IsAuthFailed(err error) bool {
	var target *AuthFailedError
	return errors.As(err, &target)
}

// ProviderError is a transient transport failure.
type ProviderError struct {
	Provider string
	Code     int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s provider error (%d): %v", e.Provider, e.Code, e.Err)
	}
	return fmt.Sprintf("%s provider error: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func NewProviderError(provider string, code int, err error) error {
	return &ProviderError{Provider: provider, Code: code, Err: err}
}

func IsProviderError(err error) bool {
	var target *ProviderError
	return errors.As(err, &target)
}

// InvalidTransitionError rejects a campaign status change the state machine does not allow.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("campaign cannot move from %s to %s", e.From, e.To)
}

func NewInvalidTransition(from, to string) error {
	return &InvalidTransitionError{From: from, To: to}
}

func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}
