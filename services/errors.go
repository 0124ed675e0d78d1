package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a machine-readable error category.
type ErrorCode string

const (
	CodeFeatureDisabled ErrorCode = "FEATURE_DISABLED"
	CodeFeaturePaused   ErrorCode = "FEATURE_PAUSED"
	CodeInvalidCoins    ErrorCode = "INVALID_COINS"
	CodeNoTeam          ErrorCode = "NO_TEAM"
	CodeUnknownUser     ErrorCode = "UNKNOWN_USER"
	CodeNoPlayer        ErrorCode = "NO_PLAYER"
	CodeInvalidWindow   ErrorCode = "INVALID_WINDOW"
)

// ErrNotConfigured is returned by components that need the remote client
// when none is set.
var ErrNotConfigured = errors.New("remote client is not configured")

// ConfigurationError means the feature is disabled or paused.
// Fatal at entry; nothing is recorded.
type ConfigurationError struct {
	Code    ErrorCode
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidationError means the request can never succeed (bad amount, no team).
type ValidationError struct {
	Code    ErrorCode
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// RemoteTransportError wraps network failures and undecodable responses.
type RemoteTransportError struct {
	Op  string
	Err error
}

func (e *RemoteTransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteTransportError) Unwrap() error { return e.Err }

// RemoteAPIError is a well-formed error response from the rewards service.
type RemoteAPIError struct {
	Op      string
	Status  int
	Code    string
	Message string
}

func (e *RemoteAPIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: remote returned %d (%s): %s", e.Op, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: remote returned %d", e.Op, e.Status)
}

// IdentityReconciliationError means the user could not be provisioned as a
// remote player. Recoverable; the award is logged unbroadcast.
type IdentityReconciliationError struct {
	UserID uint
	Err    error
}

func (e *IdentityReconciliationError) Error() string {
	return fmt.Sprintf("%s: user %d: %v", CodeNoPlayer, e.UserID, e.Err)
}

func (e *IdentityReconciliationError) Unwrap() error { return e.Err }

// WebhookError carries the HTTP status a webhook rejection maps to.
type WebhookError struct {
	Status  int
	Message string
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook rejected (%d): %s", e.Status, e.Message)
}

func newWebhookError(status int, message string) *WebhookError {
	return &WebhookError{Status: status, Message: message}
}

var (
	errDisabled = &ConfigurationError{Code: CodeFeatureDisabled, Message: "coinsync is not enabled"}
	errPaused   = &ConfigurationError{Code: CodeFeaturePaused, Message: "coinsync is paused"}
)

// IsConfigurationError reports whether err is a disabled/paused error.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsRemoteNotFound reports whether the remote service answered 404.
func IsRemoteNotFound(err error) bool {
	var ae *RemoteAPIError
	if errors.As(err, &ae) {
		return ae.Status == http.StatusNotFound
	}
	return false
}

// IsRemoteError reports whether err came from talking to the remote service.
func IsRemoteError(err error) bool {
	var ae *RemoteAPIError
	var te *RemoteTransportError
	return errors.As(err, &ae) || errors.As(err, &te)
}

// Summarize renders err as the short code stored in the ledger.
func Summarize(err error) string {
	if err == nil {
		return ""
	}
	var (
		ae *RemoteAPIError
		te *RemoteTransportError
		ie *IdentityReconciliationError
	)
	switch {
	case errors.As(err, &ie):
		if inner := Summarize(ie.Err); inner != "" && inner != "error" {
			return "no_player:" + inner
		}
		return "no_player"
	case errors.As(err, &ae):
		s := fmt.Sprintf("remote_api:%d", ae.Status)
		if ae.Code != "" {
			s += ":" + ae.Code
		}
		return truncate(s, 255)
	case errors.As(err, &te):
		return "transport"
	}
	return "error"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
