package transport

import (
	"context"
	"time"
)

// Credential is an opaque secret used to authenticate one account.
// It is owned exclusively by that account and never shared.
type Credential struct {
	Token string
}

// Target identifies a destination the platform can deliver to.
type Target struct {
	ID   string
	Name string
	Kind string // "server", "channel", "group", ...
}

// Ack confirms a delivered message.
type Ack struct {
	MessageID string
	At        time.Time
}

// Transport authenticates credentials into live sessions.
type Transport interface {
	Authenticate(ctx context.Context, cred Credential) (Session, error)
}

// Session is one account's authenticated send path.
//
// Implementations must be safe for concurrent use; the scheduler
// guarantees at most one in-flight PostMessage per session, but typing
// signals and rate-limit queries may overlap with it.
type Session interface {
	// PostMessage delivers content to the target. A rejected send due to
	// the platform's rate limit is returned as *RateLimitedError.
	PostMessage(ctx context.Context, targetID, content string, asEmbed bool) (Ack, error)

	// QueryRateLimit reports the target's currently enforced minimum
	// interval between messages (0 means none).
	QueryRateLimit(ctx context.Context, targetID string) (time.Duration, error)

	// ListTargets enumerates destinations visible to this session.
	ListTargets(ctx context.Context) ([]Target, error)

	// JoinTarget redeems an invite code, adding its destination to the
	// session's visible targets. Platforms without invite semantics
	// return ErrNotSupported.
	JoinTarget(ctx context.Context, invite string) (Target, error)

	// SendTyping emits a best-effort composing signal. Errors are
	// advisory; callers ignore them.
	SendTyping(ctx context.Context, targetID string) error

	Close() error
}
