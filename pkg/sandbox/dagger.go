package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dagger.io/dagger"
	"github.com/google/uuid"
)

// DaggerRuntime runs sandbox processes as Dagger containers. Long-running
// service processes (ExposePort > 0) become Dagger services with a
// reachable endpoint; run-to-completion commands execute via WithExec with
// stdout/stderr/exit code captured once the query resolves.
type DaggerRuntime struct {
	dag    *dagger.Client
	image  string
	logger *slog.Logger

	mu     sync.Mutex
	procs  map[string]*daggerProcess
	closed bool
}

type daggerProcess struct {
	mu       sync.Mutex
	snapshot Process
	logs     Logs
	hasLogs  bool
	service  *dagger.Service
	endpoint string
}

// NewDaggerRuntime creates a runtime backed by the given Dagger client.
func NewDaggerRuntime(dag *dagger.Client, image string, logger *slog.Logger) (*DaggerRuntime, error) {
	if dag == nil {
		return nil, fmt.Errorf("dagger client is required")
	}
	if image == "" {
		image = "ubuntu:latest"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DaggerRuntime{
		dag:    dag,
		image:  image,
		logger: logger,
		procs:  make(map[string]*daggerProcess),
	}, nil
}

// StartProcess implements Runtime.
func (r *DaggerRuntime) StartProcess(ctx context.Context, command []string, opts StartOptions) (*Process, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRuntimeClosed
	}
	r.mu.Unlock()

	dp := &daggerProcess{
		snapshot: Process{
			ID:        uuid.NewString(),
			Command:   append([]string(nil), command...),
			Status:    StatusStarting,
			StartedAt: time.Now(),
		},
	}

	if opts.ExposePort > 0 {
		if err := r.startService(ctx, dp, command, opts.ExposePort); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSpawnRejected, err)
		}
	} else {
		r.startCommand(dp, command)
	}

	r.mu.Lock()
	r.procs[dp.snapshot.ID] = dp
	r.mu.Unlock()

	return dp.copySnapshot(), nil
}

// startService runs the command as a Dagger service with an exposed port.
// Start only returns once the port accepts connections, so a service that
// came up is observed as running from the first snapshot.
func (r *DaggerRuntime) startService(ctx context.Context, dp *daggerProcess, command []string, port int) error {
	svc := r.dag.Container().
		From(r.image).
		WithExposedPort(port).
		AsService(dagger.ContainerAsServiceOpts{Args: command})

	svc, err := svc.Start(ctx)
	if err != nil {
		return err
	}

	endpoint, err := svc.Endpoint(ctx, dagger.ServiceEndpointOpts{Port: port, Scheme: "ws"})
	if err != nil {
		return err
	}

	dp.mu.Lock()
	dp.service = svc
	dp.endpoint = endpoint
	dp.snapshot.Status = StatusRunning
	dp.mu.Unlock()

	r.logger.Info("service started", "id", dp.snapshot.ID, "endpoint", endpoint)
	return nil
}

// startCommand runs a one-shot command in the background and records its
// output when the execution settles.
func (r *DaggerRuntime) startCommand(dp *daggerProcess, command []string) {
	ctr := r.dag.Container().
		From(r.image).
		WithExec(command)

	dp.mu.Lock()
	dp.snapshot.Status = StatusRunning
	dp.mu.Unlock()

	go func() {
		// Detached from the caller: the process belongs to the sandbox,
		// not to the request that started it.
		ctx := context.Background()

		stdout, outErr := ctr.Stdout(ctx)
		stderr, _ := ctr.Stderr(ctx)
		exitCode, codeErr := ctr.ExitCode(ctx)

		now := time.Now()
		dp.mu.Lock()
		dp.logs = Logs{Stdout: stdout, Stderr: stderr}
		dp.hasLogs = true
		dp.snapshot.EndedAt = &now
		if outErr != nil || codeErr != nil || exitCode != 0 {
			dp.snapshot.Status = StatusFailed
		} else {
			dp.snapshot.Status = StatusCompleted
		}
		if codeErr == nil {
			dp.snapshot.ExitCode = &exitCode
		}
		dp.mu.Unlock()

		r.logger.Info("command settled", "id", dp.snapshot.ID, "status", dp.snapshot.Status)
	}()
}

// ListProcesses implements Runtime.
func (r *DaggerRuntime) ListProcesses(ctx context.Context) ([]*Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	procs := make([]*Process, 0, len(r.procs))
	for _, dp := range r.procs {
		procs = append(procs, dp.copySnapshot())
	}
	return procs, nil
}

// Status implements Runtime.
func (r *DaggerRuntime) Status(ctx context.Context, id string) (*Process, error) {
	dp, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return dp.copySnapshot(), nil
}

// Logs implements Runtime. Dagger does not expose logs for running
// services, so service processes report ErrLogsUnavailable.
func (r *DaggerRuntime) Logs(ctx context.Context, id string) (Logs, error) {
	dp, err := r.get(id)
	if err != nil {
		return Logs{}, err
	}

	dp.mu.Lock()
	defer dp.mu.Unlock()
	if dp.service != nil {
		return Logs{}, fmt.Errorf("service %s: %w", id, ErrLogsUnavailable)
	}
	return dp.logs, nil
}

// Endpoint implements Runtime.
func (r *DaggerRuntime) Endpoint(ctx context.Context, id string) (string, error) {
	dp, err := r.get(id)
	if err != nil {
		return "", err
	}

	dp.mu.Lock()
	defer dp.mu.Unlock()
	if dp.service == nil {
		return "", ErrNotAService
	}
	return dp.endpoint, nil
}

// Close stops all service processes.
func (r *DaggerRuntime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	procs := make([]*daggerProcess, 0, len(r.procs))
	for _, dp := range r.procs {
		procs = append(procs, dp)
	}
	r.mu.Unlock()

	for _, dp := range procs {
		dp.mu.Lock()
		svc := dp.service
		dp.mu.Unlock()
		if svc == nil {
			continue
		}
		if _, err := svc.Stop(ctx); err != nil {
			r.logger.Error("failed to stop service", "id", dp.snapshot.ID, "error", err)
		}
	}
	return nil
}

func (r *DaggerRuntime) get(id string) (*daggerProcess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dp, ok := r.procs[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrProcessNotFound)
	}
	return dp, nil
}

func (dp *daggerProcess) copySnapshot() *Process {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	snap := dp.snapshot
	snap.Command = append([]string(nil), dp.snapshot.Command...)
	if dp.snapshot.EndedAt != nil {
		ended := *dp.snapshot.EndedAt
		snap.EndedAt = &ended
	}
	if dp.snapshot.ExitCode != nil {
		code := *dp.snapshot.ExitCode
		snap.ExitCode = &code
	}
	return &snap
}
