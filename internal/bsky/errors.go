package bsky

import (
	"errors"
	"fmt"
	"strings"
)

const (
	errorCodeExpiredToken        = "ExpiredToken"
	errorCodeInvalidToken        = "InvalidToken"
	errMessageMissingAccessToken = "client has no access token"
	errMessageMissingRefresh     = "client has no refresh token"
)

var (
	// ErrMissingAccessToken indicates the client was asked to call the remote
	// API before any credential was configured.
	ErrMissingAccessToken = errors.New(errMessageMissingAccessToken)

	// ErrMissingRefreshToken indicates a session refresh was requested without
	// a refresh credential.
	ErrMissingRefreshToken = errors.New(errMessageMissingRefresh)
)

// APIError is a structured error decoded from an XRPC failure response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error renders the remote failure with its code and status.
func (apiError *APIError) Error() string {
	if apiError.Message != "" {
		return fmt.Sprintf("%s (%d): %s", apiError.Code, apiError.StatusCode, apiError.Message)
	}
	return fmt.Sprintf("%s (%d)", apiError.Code, apiError.StatusCode)
}

// IsCredentialExpired reports whether an error indicates an expired or invalid
// remote credential, the condition that triggers a one-shot session refresh.
func IsCredentialExpired(err error) bool {
	if err == nil {
		return false
	}
	var apiError *APIError
	if errors.As(err, &apiError) {
		if apiError.Code == errorCodeExpiredToken || apiError.Code == errorCodeInvalidToken {
			return true
		}
	}
	message := err.Error()
	return strings.Contains(message, errorCodeExpiredToken) || strings.Contains(message, errorCodeInvalidToken)
}
