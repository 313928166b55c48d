package rides

import "context"

// UserStore is the narrow per-user document store the facade runs on. All
// operations carry an explicit collection prefix; implementations must never
// read from one prefix and write to another. Writes are atomic per document.
type UserStore interface {
	// GetUser returns the user document, or common.ErrNotFound.
	GetUser(ctx context.Context, prefix, phone string) (*User, error)
	// SaveUser upserts the full user document.
	SaveUser(ctx context.Context, prefix string, user *User) error
	// DeleteUser removes the user document. Deleting a missing user is not an error.
	DeleteUser(ctx context.Context, prefix, phone string) error
	// ListUsers enumerates every user document under the prefix.
	ListUsers(ctx context.Context, prefix string) ([]*User, error)
	// Ping verifies connectivity for the readiness probe.
	Ping(ctx context.Context) error
	Close() error
}
