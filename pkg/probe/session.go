package probe

import (
	"log/slog"
	"time"

	"github.com/segmentio/ksuid"
)

// Session scopes one probe invocation: one connection, one id, one logger.
type Session struct {
	ID      string
	Target  string
	Started time.Time
	Logger  *slog.Logger
}

// NewSession allocates a session id for an invocation against target. A nil
// logger falls back to slog.Default.
func NewSession(target string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := ksuid.New().String()
	return &Session{
		ID:      id,
		Target:  target,
		Started: time.Now(),
		Logger:  logger.With("session", id, "target", target),
	}
}

// Elapsed returns the time since the session started.
func (s *Session) Elapsed() time.Duration {
	return time.Since(s.Started)
}
