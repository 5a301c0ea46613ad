package scheduler

import "context"

// Job represents a unit of work that can be executed by the worker pool.
type Job interface {
	// Execute runs the job with the given context.
	Execute(ctx context.Context) error

	// Key identifies the work; two jobs with the same key never run at once.
	Key() string

	// UserID returns the user whose data the job touches, for logging.
	UserID() string

	Description() string
}
