package circulation

import (
	"context"

	"github.com/google/uuid"
)

// Logger is the minimal logging contract used across the module. It is
// satisfied by *slog.Logger. A nil Logger means silent operation; every call
// site checks before logging.
//
// Debug: SQL statements with timing (development use)
// Info: operation outcomes, sweep counts (production-safe)
// Warn: non-critical issues such as skipped notifications
// Error: failures that cause an operation to fail.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Notifier delivers a message to a recipient address. Delivery is
// best-effort: the engine logs failures and never lets them escalate into a
// failed state transition.
type Notifier interface {
	Notify(ctx context.Context, to string, subject string, body string) error
}

// UserDirectory resolves a user id to contact data for addressing
// notifications. It is a read-only view of the external identity
// collaborator; a lookup failure downgrades the notification, never the
// transition that triggered it.
type UserDirectory interface {
	FindUserContactByID(ctx context.Context, userID uuid.UUID) (UserContact, error)
}
