package sandbox

import "context"

// Runtime is the execution sandbox collaborator. It supplies process
// spawning, status observation, log capture, and socket establishment as
// opaque primitives. Implementations in this package: DaggerRuntime and
// DockerRuntime.
type Runtime interface {
	// StartProcess requests process creation and returns a snapshot in
	// starting or running status.
	StartProcess(ctx context.Context, command []string, opts StartOptions) (*Process, error)

	// ListProcesses returns a snapshot of all known processes. No ordering
	// is guaranteed.
	ListProcesses(ctx context.Context) ([]*Process, error)

	// Status re-reads the current snapshot of one process.
	Status(ctx context.Context, id string) (*Process, error)

	// Logs returns the captured stdout/stderr of a process. Returns an
	// error wrapping ErrLogsUnavailable when the sandbox cannot produce
	// them; callers treat that as empty logs.
	Logs(ctx context.Context, id string) (Logs, error)

	// Endpoint returns the WebSocket URL of a service process started with
	// a non-zero ExposePort.
	Endpoint(ctx context.Context, id string) (string, error)

	// Close releases runtime resources.
	Close(ctx context.Context) error
}
