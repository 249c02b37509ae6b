// internal/domain/aggregate/errors.go
package aggregate

import "errors"

// Error taxonomy for the aggregate subsystem. Callers classify with
// errors.Is; details are attached by wrapping with fmt.Errorf("%w: ...").
var (
	// ErrValidation marks malformed or missing caller input. Not retryable.
	ErrValidation = errors.New("validation failed")

	// ErrUserNotFound is returned when no aggregate exists for the user.
	ErrUserNotFound = errors.New("user aggregate not found")

	// ErrProfileNotFound is returned when the referenced alarm profile does
	// not exist for the user.
	ErrProfileNotFound = errors.New("alarm profile not found")

	// ErrNotificationLogNotFound is returned when the referenced notification
	// log entry does not exist for the user.
	ErrNotificationLogNotFound = errors.New("notification log not found")

	// ErrConcurrency is returned when a transaction lost a serialization
	// race. Safe to retry with backoff; no partial state was committed.
	ErrConcurrency = errors.New("transaction conflict")

	// ErrDatabase marks an unexpected persistence failure, or a post-commit
	// invariant check failing after a write that nominally succeeded. Treated
	// as a defect and logged at high severity, never downgraded.
	ErrDatabase = errors.New("database failure")
)
