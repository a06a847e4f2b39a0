package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Trueflutter/moltworker/pkg/sandbox"
)

// MockRuntime is a test implementation of sandbox.Runtime. Processes start
// in "starting" status and advance to FinalStatus after StatusReads
// observations, mimicking a sandbox whose polling interval misses the
// intermediate states.
type MockRuntime struct {
	mu    sync.Mutex
	procs map[string]*mockProcess
	next  int

	// StatusReads is the number of Status calls before a process leaves
	// "starting". Zero means processes are running immediately.
	StatusReads int

	// FinalStatus is the status a process advances to; defaults to running.
	FinalStatus sandbox.Status

	// Injectable failures.
	StartErr error
	ListErr  error
	LogsErr  error

	// ProcessLogs is returned by Logs when LogsErr is nil.
	ProcessLogs sandbox.Logs

	// StartCalls counts StartProcess invocations.
	StartCalls int

	// ServiceEndpoint is returned by Endpoint for service processes.
	ServiceEndpoint string
}

type mockProcess struct {
	snapshot sandbox.Process
	reads    int
	service  bool
}

// NewMockRuntime creates an empty mock runtime.
func NewMockRuntime() *MockRuntime {
	return &MockRuntime{
		procs:           make(map[string]*mockProcess),
		FinalStatus:     sandbox.StatusRunning,
		ServiceEndpoint: "ws://127.0.0.1:18789",
	}
}

// StartProcess mock implementation.
func (m *MockRuntime) StartProcess(ctx context.Context, command []string, opts sandbox.StartOptions) (*sandbox.Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StartCalls++
	if m.StartErr != nil {
		return nil, m.StartErr
	}

	m.next++
	mp := &mockProcess{
		snapshot: sandbox.Process{
			ID:        fmt.Sprintf("proc-%d", m.next),
			Command:   append([]string(nil), command...),
			Status:    sandbox.StatusStarting,
			StartedAt: time.Now(),
		},
		service: opts.ExposePort > 0,
	}
	if m.StatusReads == 0 {
		mp.snapshot.Status = m.FinalStatus
		m.settle(mp)
	}
	m.procs[mp.snapshot.ID] = mp
	snap := mp.snapshot
	return &snap, nil
}

// ListProcesses mock implementation.
func (m *MockRuntime) ListProcesses(ctx context.Context) ([]*sandbox.Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListErr != nil {
		return nil, m.ListErr
	}
	procs := make([]*sandbox.Process, 0, len(m.procs))
	for _, mp := range m.procs {
		snap := mp.snapshot
		procs = append(procs, &snap)
	}
	return procs, nil
}

// Status mock implementation; advances the process after StatusReads
// observations.
func (m *MockRuntime) Status(ctx context.Context, id string) (*sandbox.Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mp, ok := m.procs[id]
	if !ok {
		return nil, sandbox.ErrProcessNotFound
	}
	mp.reads++
	if mp.reads >= m.StatusReads && mp.snapshot.Status == sandbox.StatusStarting {
		mp.snapshot.Status = m.FinalStatus
		m.settle(mp)
	}
	snap := mp.snapshot
	return &snap, nil
}

// Logs mock implementation.
func (m *MockRuntime) Logs(ctx context.Context, id string) (sandbox.Logs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.procs[id]; !ok {
		return sandbox.Logs{}, sandbox.ErrProcessNotFound
	}
	if m.LogsErr != nil {
		return sandbox.Logs{}, m.LogsErr
	}
	return m.ProcessLogs, nil
}

// Endpoint mock implementation.
func (m *MockRuntime) Endpoint(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mp, ok := m.procs[id]
	if !ok {
		return "", sandbox.ErrProcessNotFound
	}
	if !mp.service {
		return "", sandbox.ErrNotAService
	}
	return m.ServiceEndpoint, nil
}

// Close mock implementation.
func (m *MockRuntime) Close(ctx context.Context) error { return nil }

// Seed inserts a process snapshot directly, bypassing StartProcess.
func (m *MockRuntime) Seed(p sandbox.Process, service bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.procs[p.ID] = &mockProcess{snapshot: p, service: service}
}

func (m *MockRuntime) settle(mp *mockProcess) {
	if !mp.snapshot.Status.Settled() {
		return
	}
	now := time.Now()
	mp.snapshot.EndedAt = &now
	code := 0
	if mp.snapshot.Status == sandbox.StatusFailed {
		code = 1
	}
	mp.snapshot.ExitCode = &code
}
