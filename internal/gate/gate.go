// Package gate implements the local access check that runs before any remote
// call is allowed: an allow-list file of authorized handles plus an
// append-only access log.
package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	accessGrantedMessage       = "Access granted"
	accessDeniedMessage        = "Access denied"
	errMessageMissingAllowFile = "gate requires an allowed-handles file"
	errMessageReadAllowFile    = "read allowed-handles file"
	errMessageParseAllowFile   = "parse allowed-handles file"
	logMessageAccessCheck      = "access check"
	logFieldHandle             = "handle"
	logFieldAllowed            = "allowed"
	accessLogLineFormat        = "%s | %s | %s\n"
	accessLogAllowedLabel      = "allowed"
	accessLogDeniedLabel       = "denied"
	accessLogTimeFormat        = "2006-01-02 15:04:05"
	accessLogFileMode          = 0o644
)

var errMissingAllowFile = errors.New(errMessageMissingAllowFile)

// Decision is the outcome of one access check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Message string `json:"message,omitempty"`
}

// Config customizes a Gate instance.
type Config struct {
	AllowedHandlesPath string
	AccessLogPath      string
	Logger             *zap.Logger
}

// Gate answers whether a handle may use the service. The allowed-handles file
// is a JSON array of handles, compared case-insensitively.
type Gate struct {
	allowedHandles map[string]struct{}
	accessLogPath  string
	logger         *zap.Logger
	logMutex       sync.Mutex
}

// NewGate loads the allowed-handles file and constructs a Gate.
func NewGate(configuration Config) (*Gate, error) {
	if strings.TrimSpace(configuration.AllowedHandlesPath) == "" {
		return nil, errMissingAllowFile
	}
	fileContent, err := os.ReadFile(configuration.AllowedHandlesPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageReadAllowFile, err)
	}
	var handleList []string
	if err := json.Unmarshal(fileContent, &handleList); err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageParseAllowFile, err)
	}

	allowedHandles := make(map[string]struct{}, len(handleList))
	for _, handle := range handleList {
		normalized := normalizeHandle(handle)
		if normalized != "" {
			allowedHandles[normalized] = struct{}{}
		}
	}

	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		allowedHandles: allowedHandles,
		accessLogPath:  configuration.AccessLogPath,
		logger:         logger,
	}, nil
}

// CheckAccess reports whether the handle is authorized and appends one line
// to the access log. Log write failures never flip an allow into a deny.
func (gate *Gate) CheckAccess(handle string) Decision {
	normalized := normalizeHandle(handle)
	_, allowed := gate.allowedHandles[normalized]

	gate.logger.Info(logMessageAccessCheck,
		zap.String(logFieldHandle, normalized),
		zap.Bool(logFieldAllowed, allowed))
	gate.appendAccessLog(normalized, allowed)

	decision := Decision{Allowed: allowed, Message: accessDeniedMessage}
	if allowed {
		decision.Message = accessGrantedMessage
	}
	return decision
}

func (gate *Gate) appendAccessLog(handle string, allowed bool) {
	if gate.accessLogPath == "" {
		return
	}
	gate.logMutex.Lock()
	defer gate.logMutex.Unlock()

	logFile, err := os.OpenFile(gate.accessLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, accessLogFileMode)
	if err != nil {
		gate.logger.Warn(logMessageAccessCheck, zap.Error(err))
		return
	}
	defer logFile.Close()

	outcome := accessLogDeniedLabel
	if allowed {
		outcome = accessLogAllowedLabel
	}
	line := fmt.Sprintf(accessLogLineFormat, time.Now().UTC().Format(accessLogTimeFormat), handle, outcome)
	if _, err := logFile.WriteString(line); err != nil {
		gate.logger.Warn(logMessageAccessCheck, zap.Error(err))
	}
}

func normalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}
