package stepflow

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("stepflow: no store configured")
	ErrMigrationFailed = errors.New("stepflow: migration failed")

	// Not found errors.
	ErrTaskNotFound     = errors.New("stepflow: task not found")
	ErrTaskTypeNotFound = errors.New("stepflow: task type not registered")
	ErrSignalNotFound   = errors.New("stepflow: signal callback not found")
	ErrCronNotFound     = errors.New("stepflow: cron entry not found")
	ErrServerNotFound   = errors.New("stepflow: server not found")

	// Conflict errors.
	ErrTaskAlreadyExists   = errors.New("stepflow: task already exists")
	ErrSignalAlreadyExists = errors.New("stepflow: system signal callback already exists")
	ErrDuplicateCron       = errors.New("stepflow: duplicate cron entry")
	ErrDuplicateTaskType   = errors.New("stepflow: task type already registered")

	// State errors.
	ErrTaskFinished = errors.New("stepflow: task already finished")
	ErrLockNotHeld  = errors.New("stepflow: lock not held")
)
