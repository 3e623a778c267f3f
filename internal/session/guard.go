package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sky-audit/skyaudit/internal/bsky"
)

const (
	errMessageSessionExpired  = "session expired, please sign in again"
	errMessageMissingRefresh  = "guard requires a refresh function"
	logMessageRefreshAttempt  = "credential expired, refreshing session"
	logMessageRefreshFailed   = "session refresh failed"
	logMessageRetryAfterFresh = "retrying call after session refresh"
)

// ErrSessionExpired is the terminal error surfaced when a credential refresh fails.
var ErrSessionExpired = errors.New(errMessageSessionExpired)

// RefreshFunc re-authenticates the current session.
type RefreshFunc func(ctx context.Context) error

// ExpiryPredicate reports whether an error indicates an expired credential.
type ExpiryPredicate func(err error) bool

// GuardConfig customizes a Guard instance.
type GuardConfig struct {
	Refresh   RefreshFunc
	IsExpired ExpiryPredicate
	Logger    *zap.Logger
}

// Guard wraps remote operations with a one-shot refresh-and-retry policy.
// A failing call whose error matches the expiry predicate triggers exactly one
// refresh attempt followed by exactly one retry; every other error passes
// through untouched.
type Guard struct {
	refresh   RefreshFunc
	isExpired ExpiryPredicate
	logger    *zap.Logger
}

// NewGuard constructs a Guard, defaulting the predicate to the remote API's
// credential-expiry recognition.
func NewGuard(configuration GuardConfig) (*Guard, error) {
	if configuration.Refresh == nil {
		return nil, errors.New(errMessageMissingRefresh)
	}
	isExpired := configuration.IsExpired
	if isExpired == nil {
		isExpired = bsky.IsCredentialExpired
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{refresh: configuration.Refresh, isExpired: isExpired, logger: logger}, nil
}

// Do executes the operation, applying the bounded refresh-and-retry policy.
func (guard *Guard) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	operationErr := operation(ctx)
	if operationErr == nil || !guard.isExpired(operationErr) {
		return operationErr
	}

	guard.logger.Info(logMessageRefreshAttempt, zap.Error(operationErr))
	if refreshErr := guard.refresh(ctx); refreshErr != nil {
		guard.logger.Error(logMessageRefreshFailed, zap.Error(refreshErr))
		return fmt.Errorf("%w: %v", ErrSessionExpired, refreshErr)
	}

	guard.logger.Info(logMessageRetryAfterFresh)
	return operation(ctx)
}
