package sandbox_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/Trueflutter/moltworker/internal/testutil"
	"github.com/Trueflutter/moltworker/pkg/sandbox"
)

func mustNewSupervisor(t *testing.T, rt *testutil.MockRuntime) *sandbox.Supervisor {
	t.Helper()

	sup, err := sandbox.NewSupervisor(rt, slog.Default())
	if err != nil {
		t.Fatalf("failed to create supervisor: %v", err)
	}
	return sup
}

func Test_Start_EmptyCommand(t *testing.T) {
	sup := mustNewSupervisor(t, testutil.NewMockRuntime())

	_, err := sup.Start(context.Background(), nil, sandbox.StartOptions{})
	if !errors.Is(err, sandbox.ErrSpawnRejected) {
		t.Fatalf("expected spawn rejection, got %v", err)
	}
}

func Test_Start_ReturnsImmediately(t *testing.T) {
	rt := testutil.NewMockRuntime()
	rt.StatusReads = 5

	sup := mustNewSupervisor(t, rt)

	p, err := sup.Start(context.Background(), []string{"echo", "hi"}, sandbox.StartOptions{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if p.Status != sandbox.StatusStarting {
		t.Errorf("expected starting status, got %q", p.Status)
	}
	if p.ID == "" {
		t.Error("expected a process ID")
	}
}

func Test_Find(t *testing.T) {
	rt := testutil.NewMockRuntime()
	rt.Seed(sandbox.Process{ID: "a", Command: []string{"sleep", "1"}, Status: sandbox.StatusRunning, StartedAt: time.Now()}, false)
	rt.Seed(sandbox.Process{ID: "b", Command: []string{"moltbot-gateway"}, Status: sandbox.StatusRunning, StartedAt: time.Now()}, true)

	sup := mustNewSupervisor(t, rt)

	p, err := sup.Find(context.Background(), func(p *sandbox.Process) bool {
		return p.CommandLine() == "moltbot-gateway"
	})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if p == nil || p.ID != "b" {
		t.Errorf("expected process b, got %+v", p)
	}

	p, err = sup.Find(context.Background(), func(p *sandbox.Process) bool { return false })
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if p != nil {
		t.Errorf("expected no match, got %+v", p)
	}
}

func Test_AwaitSettled_ReachesTerminalStatus(t *testing.T) {
	rt := testutil.NewMockRuntime()
	rt.StatusReads = 2
	rt.FinalStatus = sandbox.StatusCompleted

	sup := mustNewSupervisor(t, rt)

	p, err := sup.Start(context.Background(), []string{"true"}, sandbox.StartOptions{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	settled, err := sup.AwaitSettled(context.Background(), p.ID, time.Millisecond, 20)
	if err != nil {
		t.Fatalf("AwaitSettled failed: %v", err)
	}
	if settled.Status != sandbox.StatusCompleted {
		t.Errorf("expected completed, got %q", settled.Status)
	}
	if settled.EndedAt == nil {
		t.Error("expected an end time on a settled process")
	}
	if settled.ExitCode == nil || *settled.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %v", settled.ExitCode)
	}
}

func Test_AwaitSettled_LenientTimeout(t *testing.T) {
	rt := testutil.NewMockRuntime()
	rt.StatusReads = 1 // running after one read, never settles

	sup := mustNewSupervisor(t, rt)

	p, err := sup.Start(context.Background(), []string{"moltbot-gateway"}, sandbox.StartOptions{ExposePort: 18789})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Exhaustion is not an error: the last snapshot comes back and the
	// caller checks the status itself.
	settled, err := sup.AwaitSettled(context.Background(), p.ID, time.Millisecond, 3)
	if err != nil {
		t.Fatalf("expected lenient timeout, got error: %v", err)
	}
	if settled.Status != sandbox.StatusRunning {
		t.Errorf("expected last observed status running, got %q", settled.Status)
	}
}

func Test_AwaitSettled_UnknownProcess(t *testing.T) {
	sup := mustNewSupervisor(t, testutil.NewMockRuntime())

	_, err := sup.AwaitSettled(context.Background(), "missing", time.Millisecond, 3)
	if !sandbox.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func Test_Logs_Unavailable(t *testing.T) {
	rt := testutil.NewMockRuntime()
	rt.LogsErr = sandbox.ErrLogsUnavailable

	sup := mustNewSupervisor(t, rt)

	p, err := sup.Start(context.Background(), []string{"true"}, sandbox.StartOptions{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	_, err = sup.Logs(context.Background(), p.ID)
	if !sandbox.IsLogsUnavailable(err) {
		t.Fatalf("expected logs unavailable, got %v", err)
	}
}
