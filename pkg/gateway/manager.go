package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/Trueflutter/moltworker/pkg/sandbox"
)

// errStillStarting drives the readiness poll; it never escapes.
var errStillStarting = errors.New("gateway still starting")

// Config holds the fixed identity and readiness policy of the gateway
// process.
type Config struct {
	// Command is the gateway's command signature; a process in the sandbox
	// snapshot with this exact command line is the gateway.
	Command []string

	// Port is the WebSocket port the gateway listens on inside the sandbox.
	Port int

	// PollInterval and MaxAttempts bound the readiness wait after a start.
	PollInterval time.Duration
	MaxAttempts  int
}

// Handle is the "the gateway is up" fact: a running process plus the
// endpoint a relay session can dial.
type Handle struct {
	ProcessID string
	Endpoint  string
}

// Manager idempotently guarantees a single ready gateway process, safe
// under concurrent callers. It is the sole shared-mutable-state boundary
// between relay sessions.
type Manager struct {
	supervisor *sandbox.Supervisor
	config     Config
	logger     *slog.Logger

	// group serializes starts per gateway signature: callers that arrive
	// while a start is in flight share that attempt's outcome instead of
	// spawning a second process.
	group     singleflight.Group
	signature string
}

// NewManager creates a lifecycle manager for the configured gateway.
func NewManager(supervisor *sandbox.Supervisor, config Config, logger *slog.Logger) (*Manager, error) {
	if supervisor == nil {
		return nil, errors.New("supervisor is required")
	}
	if len(config.Command) == 0 {
		return nil, errors.New("gateway command is required")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		supervisor: supervisor,
		config:     config,
		logger:     logger,
		signature:  strings.Join(config.Command, " "),
	}, nil
}

// EnsureRunning returns a handle to a running gateway process, starting one
// if needed. Concurrent callers racing past the fast path collapse into a
// single start; the rest wait for its outcome.
func (m *Manager) EnsureRunning(ctx context.Context) (*Handle, error) {
	if h, err := m.findRunning(ctx); err != nil {
		return nil, err
	} else if h != nil {
		return h, nil
	}

	v, err, _ := m.group.Do(m.signature, func() (interface{}, error) {
		// Re-check under the flight: an earlier waiter may have started
		// the gateway between our fast path and now.
		if h, err := m.findRunning(ctx); err != nil {
			return nil, err
		} else if h != nil {
			return h, nil
		}
		// The gateway outlives the request that triggered it; detach the
		// start from the caller's cancellation.
		return m.start(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// findRunning looks for an existing process matching the gateway signature
// in running status.
func (m *Manager) findRunning(ctx context.Context) (*Handle, error) {
	p, err := m.supervisor.Find(ctx, func(p *sandbox.Process) bool {
		return p.CommandLine() == m.signature
	})
	if err != nil {
		return nil, fmt.Errorf("query processes: %w", err)
	}
	if p == nil || p.Status != sandbox.StatusRunning {
		return nil, nil
	}

	endpoint, err := m.supervisor.Endpoint(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve gateway endpoint: %w", err)
	}
	return &Handle{ProcessID: p.ID, Endpoint: endpoint}, nil
}

// start spawns the gateway process and polls until it is running or the
// readiness bound is exhausted.
func (m *Manager) start(ctx context.Context) (*Handle, error) {
	m.logger.Info("starting gateway", "command", m.signature)

	p, err := m.supervisor.Start(ctx, m.config.Command, sandbox.StartOptions{ExposePort: m.config.Port})
	if err != nil {
		return nil, &StartError{Details: err.Error()}
	}

	last := p
	op := func() error {
		snap, err := m.supervisor.Status(ctx, p.ID)
		if err != nil {
			return backoff.Permanent(err)
		}
		last = snap
		if snap.Status == sandbox.StatusStarting {
			return errStillStarting
		}
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.config.PollInterval), uint64(m.config.MaxAttempts)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil && !errors.Is(err, errStillStarting) {
		return nil, m.startError(ctx, last, err.Error())
	}

	if last.Status != sandbox.StatusRunning {
		return nil, m.startError(ctx, last, "")
	}

	endpoint, err := m.supervisor.Endpoint(ctx, p.ID)
	if err != nil {
		return nil, m.startError(ctx, last, err.Error())
	}

	m.logger.Info("gateway ready", "id", p.ID, "endpoint", endpoint)
	return &Handle{ProcessID: p.ID, Endpoint: endpoint}, nil
}

// startError builds a StartError carrying whatever logs the sandbox can
// still produce.
func (m *Manager) startError(ctx context.Context, p *sandbox.Process, detail string) *StartError {
	logs, err := m.supervisor.Logs(ctx, p.ID)
	if err != nil {
		// Unretrievable logs are treated as empty, not fatal.
		logs = sandbox.Logs{}
	}

	parts := make([]string, 0, 3)
	if detail != "" {
		parts = append(parts, detail)
	}
	if s := strings.TrimSpace(logs.Stderr); s != "" {
		parts = append(parts, "stderr: "+s)
	}
	if s := strings.TrimSpace(logs.Stdout); s != "" {
		parts = append(parts, "stdout: "+s)
	}
	if len(parts) == 0 {
		parts = append(parts, "no output captured")
	}

	se := &StartError{
		ProcessID: p.ID,
		Status:    string(p.Status),
		Details:   strings.Join(parts, "; "),
	}
	m.logger.Error("gateway start failed", "id", p.ID, "status", p.Status, "details", se.Details)
	return se
}
