// Package audit writes one JSONL record per prediction-service action so an
// operator can reconstruct what the autopilot was asked and what it answered.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry is a single audit record.
type Entry struct {
	Timestamp time.Time              `json:"ts"`
	User      string                 `json:"user"`
	Session   string                 `json:"session"`
	Action    string                 `json:"action"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Outcome   string                 `json:"outcome"`
	Code      string                 `json:"code"`
}

// Outcome codes recorded per action.
const (
	CodeSuccess      = "SUCCESS"
	CodeBadRequest   = "BAD_REQUEST"
	CodeNoModel      = "NO_MODEL"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeError        = "ERROR"
)

// Logger appends audit entries to a size-rotated JSONL file.
type Logger struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

// NewLogger creates the log directory and opens audit.jsonl inside it,
// rotating at maxSizeMB megabytes and keeping maxBackups old files for at
// most maxAgeDays days (0 keeps rotated files forever).
func NewLogger(logDir string, maxSizeMB, maxBackups, maxAgeDays int) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	if maxBackups <= 0 {
		maxBackups = 5
	}
	return &Logger{
		out: &lumberjack.Logger{
			Filename:   filepath.Join(logDir, "audit.jsonl"),
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   true,
		},
	}, nil
}

// LogAction records one service action. err may be nil for success.
func (l *Logger) LogAction(ctx context.Context, action, sessionID string, params map[string]interface{}, err error) {
	outcome := "ok"
	code := CodeSuccess
	if err != nil {
		outcome = err.Error()
		code = codeFromError(err)
	}
	l.write(Entry{
		Timestamp: time.Now().UTC(),
		User:      UserFromContext(ctx),
		Session:   sessionID,
		Action:    action,
		Params:    params,
		Outcome:   outcome,
		Code:      code,
	})
}

func (l *Logger) write(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal audit entry: %v\n", err)
		return
	}
	if _, err := l.out.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write audit entry: %v\n", err)
	}
}

// Close closes the underlying rotated file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}

// Path returns the active audit log file path.
func (l *Logger) Path() string {
	return l.out.Filename
}

type ctxKey int

const userKey ctxKey = iota

// WithUser stores the authenticated subject on the context. The auth
// middleware calls this so audit entries carry who issued each request.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated subject, or "unknown" when the
// request was not authenticated.
func UserFromContext(ctx context.Context) string {
	if user, ok := ctx.Value(userKey).(string); ok && user != "" {
		return user
	}
	return "unknown"
}

func codeFromError(err error) string {
	if err == nil {
		return CodeSuccess
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "arity"), strings.Contains(msg, "invalid"), strings.Contains(msg, "malformed"):
		return CodeBadRequest
	case strings.Contains(msg, "no model"):
		return CodeNoModel
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "token"):
		return CodeUnauthorized
	default:
		return CodeError
	}
}
