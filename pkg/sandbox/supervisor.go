package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// errNotSettled drives the poll loop in AwaitSettled; it never escapes.
var errNotSettled = errors.New("process not settled")

// Supervisor queries, starts, and polls processes inside the sandbox on
// behalf of the rest of the system.
type Supervisor struct {
	runtime Runtime
	logger  *slog.Logger
}

// NewSupervisor creates a supervisor over the given sandbox runtime.
func NewSupervisor(runtime Runtime, logger *slog.Logger) (*Supervisor, error) {
	if runtime == nil {
		return nil, errors.New("sandbox runtime is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{runtime: runtime, logger: logger}, nil
}

// Start requests process creation and returns a snapshot immediately in
// starting or running status.
func (s *Supervisor) Start(ctx context.Context, command []string, opts StartOptions) (*Process, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrSpawnRejected)
	}

	p, err := s.runtime.StartProcess(ctx, command, opts)
	if err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	s.logger.Info("process started", "id", p.ID, "command", p.CommandLine(), "status", p.Status)
	return p, nil
}

// List returns the current process snapshot. No ordering contract; callers
// that present the list sort it themselves.
func (s *Supervisor) List(ctx context.Context) ([]*Process, error) {
	return s.runtime.ListProcesses(ctx)
}

// Find returns the first process matching the predicate, or nil if none
// matches.
func (s *Supervisor) Find(ctx context.Context, match func(*Process) bool) (*Process, error) {
	procs, err := s.runtime.ListProcesses(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range procs {
		if match(p) {
			return p, nil
		}
	}
	return nil, nil
}

// Status re-reads the current snapshot of one process.
func (s *Supervisor) Status(ctx context.Context, id string) (*Process, error) {
	return s.runtime.Status(ctx, id)
}

// AwaitSettled re-reads the process status at a fixed interval until it
// leaves starting/running or attempts are exhausted. Exhaustion returns the
// last observed snapshot with a nil error; callers must check Status. This
// is a deliberate best-effort wait standing in for a proper readiness
// notification should the sandbox ever expose one.
func (s *Supervisor) AwaitSettled(ctx context.Context, id string, interval time.Duration, maxAttempts int) (*Process, error) {
	var last *Process

	op := func() error {
		p, err := s.runtime.Status(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		last = p
		if p.Status.Settled() {
			return nil
		}
		return errNotSettled
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(maxAttempts)),
		ctx,
	)

	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, errNotSettled) {
			// Attempts exhausted while still starting/running: lenient
			// timeout, hand back the last snapshot.
			s.logger.Debug("await settled exhausted", "id", id, "status", last.Status)
			return last, nil
		}
		return last, err
	}
	return last, nil
}

// Logs returns the captured output of a process. A sandbox that cannot
// produce logs yields an error wrapping ErrLogsUnavailable; callers treat
// that as empty logs, not as a fatal condition.
func (s *Supervisor) Logs(ctx context.Context, id string) (Logs, error) {
	return s.runtime.Logs(ctx, id)
}

// Endpoint returns the WebSocket URL of a running service process.
func (s *Supervisor) Endpoint(ctx context.Context, id string) (string, error) {
	return s.runtime.Endpoint(ctx, id)
}
