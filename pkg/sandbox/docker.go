package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DockerRuntime runs sandbox processes as containers through the docker
// CLI. It exists for local operation without a Dagger engine; the gateway
// maps an exposed container port to an ephemeral host port.
type DockerRuntime struct {
	image  string
	logger *slog.Logger

	mu     sync.Mutex
	procs  map[string]*dockerProcess
	closed bool
}

type dockerProcess struct {
	mu        sync.Mutex
	snapshot  Process
	container string
	port      int
}

// NewDockerRuntime creates a docker-CLI backed runtime.
func NewDockerRuntime(image string, logger *slog.Logger) (*DockerRuntime, error) {
	if image == "" {
		return nil, fmt.Errorf("container image is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerRuntime{
		image:  image,
		logger: logger,
		procs:  make(map[string]*dockerProcess),
	}, nil
}

// StartProcess implements Runtime.
func (r *DockerRuntime) StartProcess(ctx context.Context, command []string, opts StartOptions) (*Process, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRuntimeClosed
	}
	r.mu.Unlock()

	id := uuid.NewString()
	container := "moltworker-" + id[:8]

	args := []string{"run", "-d", "--name", container}
	if opts.ExposePort > 0 {
		args = append(args, "-p", fmt.Sprintf("0:%d", opts.ExposePort))
	}
	args = append(args, r.image)
	args = append(args, command...)

	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%w: docker run: %v: %s", ErrSpawnRejected, err, strings.TrimSpace(string(out)))
	}

	dp := &dockerProcess{
		snapshot: Process{
			ID:        id,
			Command:   append([]string(nil), command...),
			Status:    StatusStarting,
			StartedAt: time.Now(),
		},
		container: container,
		port:      opts.ExposePort,
	}

	r.mu.Lock()
	r.procs[id] = dp
	r.mu.Unlock()

	r.logger.Info("container started", "id", id, "container", container)
	return r.refresh(ctx, dp)
}

// ListProcesses implements Runtime.
func (r *DockerRuntime) ListProcesses(ctx context.Context) ([]*Process, error) {
	r.mu.Lock()
	procs := make([]*dockerProcess, 0, len(r.procs))
	for _, dp := range r.procs {
		procs = append(procs, dp)
	}
	r.mu.Unlock()

	snapshots := make([]*Process, 0, len(procs))
	for _, dp := range procs {
		snap, err := r.refresh(ctx, dp)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

// Status implements Runtime.
func (r *DockerRuntime) Status(ctx context.Context, id string) (*Process, error) {
	dp, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return r.refresh(ctx, dp)
}

// refresh re-reads container state via docker inspect and folds it into the
// snapshot, respecting the forward-only status invariant.
func (r *DockerRuntime) refresh(ctx context.Context, dp *dockerProcess) (*Process, error) {
	out, err := exec.CommandContext(ctx, "docker", "inspect",
		"-f", "{{.State.Status}} {{.State.ExitCode}}", dp.container).Output()
	if err != nil {
		// Container gone: treat the last snapshot as final.
		dp.mu.Lock()
		defer dp.mu.Unlock()
		if !dp.snapshot.Status.Settled() {
			dp.snapshot.Status = StatusFailed
			now := time.Now()
			dp.snapshot.EndedAt = &now
		}
		return dp.copySnapshot(), nil
	}

	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) != 2 {
		return nil, fmt.Errorf("unexpected docker inspect output: %q", out)
	}
	state := fields[0]
	exitCode, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("parse exit code: %w", err)
	}

	dp.mu.Lock()
	defer dp.mu.Unlock()
	if !dp.snapshot.Status.Settled() {
		switch state {
		case "created", "restarting":
			dp.snapshot.Status = StatusStarting
		case "running", "paused":
			dp.snapshot.Status = StatusRunning
		default: // exited, dead, removing
			now := time.Now()
			dp.snapshot.EndedAt = &now
			dp.snapshot.ExitCode = &exitCode
			if exitCode == 0 {
				dp.snapshot.Status = StatusCompleted
			} else {
				dp.snapshot.Status = StatusFailed
			}
		}
	}
	return dp.copySnapshot(), nil
}

// Logs implements Runtime via docker logs.
func (r *DockerRuntime) Logs(ctx context.Context, id string) (Logs, error) {
	dp, err := r.get(id)
	if err != nil {
		return Logs{}, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "docker", "logs", dp.container)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Logs{}, fmt.Errorf("%s: %w: %v", id, ErrLogsUnavailable, err)
	}
	return Logs{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// Endpoint implements Runtime. The docker CLI reports the ephemeral host
// port bound to the exposed container port.
func (r *DockerRuntime) Endpoint(ctx context.Context, id string) (string, error) {
	dp, err := r.get(id)
	if err != nil {
		return "", err
	}
	if dp.port == 0 {
		return "", ErrNotAService
	}

	out, err := exec.CommandContext(ctx, "docker", "port", dp.container, strconv.Itoa(dp.port)).Output()
	if err != nil {
		return "", fmt.Errorf("docker port: %w", err)
	}

	// First mapping line, e.g. "0.0.0.0:32768".
	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	idx := strings.LastIndex(line, ":")
	if idx < 0 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return "ws://127.0.0.1:" + line[idx+1:], nil
}

// Close removes all containers started by this runtime.
func (r *DockerRuntime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	procs := make([]*dockerProcess, 0, len(r.procs))
	for _, dp := range r.procs {
		procs = append(procs, dp)
	}
	r.mu.Unlock()

	for _, dp := range procs {
		out, err := exec.CommandContext(ctx, "docker", "rm", "-f", dp.container).CombinedOutput()
		if err != nil {
			r.logger.Error("failed to remove container",
				"container", dp.container, "error", err, "output", strings.TrimSpace(string(out)))
		}
	}
	return nil
}

func (r *DockerRuntime) get(id string) (*dockerProcess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dp, ok := r.procs[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrProcessNotFound)
	}
	return dp, nil
}

func (dp *dockerProcess) copySnapshot() *Process {
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
