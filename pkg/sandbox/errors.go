package sandbox

import "errors"

// Package-level error definitions
var (
	// ErrProcessNotFound indicates the requested process doesn't exist
	ErrProcessNotFound = errors.New("process not found")

	// ErrSpawnRejected indicates the sandbox refused to start the command
	ErrSpawnRejected = errors.New("sandbox rejected command")

	// ErrLogsUnavailable indicates the sandbox cannot return logs,
	// e.g. because the process has already been reaped
	ErrLogsUnavailable = errors.New("process logs unavailable")

	// ErrNotAService indicates the process was not started with an
	// exposed port and has no endpoint
	ErrNotAService = errors.New("process is not a service")

	// ErrRuntimeClosed indicates the runtime has been closed
	ErrRuntimeClosed = errors.New("runtime is closed")
)

// IsNotFound returns true if the error is ErrProcessNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProcessNotFound)
}

// IsLogsUnavailable returns true if the error is ErrLogsUnavailable
func IsLogsUnavailable(err error) bool {
	return errors.Is(err, ErrLogsUnavailable)
}
