package fiber

import "errors"

var (
	// ErrSchedulerClosed is returned by operations on a closed Scheduler.
	ErrSchedulerClosed = errors.New("fiber: scheduler closed")

	// ErrReentrant is returned when a Scheduler's loop is entered (or
	// closed) while it is already running, e.g. from one of its own
	// fibers.
	ErrReentrant = errors.New("fiber: scheduler loop already running")

	// ErrNotRunning is returned when a suspending primitive is called on
	// a fiber that is not the one currently running on its scheduler.
	ErrNotRunning = errors.New("fiber: fiber is not running")

	// ErrStackSize is returned by Spawn for a stack size outside
	// [0, MaxStackSize].
	ErrStackSize = errors.New("fiber: invalid stack size")

	// ErrNilFunc is returned by Spawn for a nil entry point.
	ErrNilFunc = errors.New("fiber: nil entry point")

	// ErrInvalidFD is returned when waiting on a negative descriptor.
	ErrInvalidFD = errors.New("fiber: invalid file descriptor")

	// ErrBatchBusy is returned when a Batch is waited on or modified
	// while another wait on it is outstanding.
	ErrBatchBusy = errors.New("fiber: batch already waiting")
)
