package state

import "context"

// Repository persists the run status.
// Implementations must write atomically so a crash never leaves a torn
// file behind.
type Repository interface {
	// Load retrieves the last saved status.
	// Returns an empty status and nil error if none exists.
	Load(ctx context.Context) (Status, error)

	// Save persists the status atomically.
	Save(ctx context.Context, s Status) error
}
