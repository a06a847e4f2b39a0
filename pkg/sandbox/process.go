package sandbox

import (
	"strings"
	"time"
)

// Status represents the observed state of a sandbox process
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Settled reports whether the process has reached a terminal status.
func (s Status) Settled() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Process is a point-in-time snapshot of one backend-spawned process. The
// sandbox owns the process for its full lifetime; this package only ever
// observes it. Status moves forward only: starting -> running ->
// completed/failed. A poll may observe running -> completed without ever
// seeing starting.
type Process struct {
	ID        string     `json:"id"`
	Command   []string   `json:"command"`
	Status    Status     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
}

// CommandLine returns the command as a single display string.
func (p *Process) CommandLine() string {
	return strings.Join(p.Command, " ")
}

// Logs holds the captured output of a process, retrievable on demand.
type Logs struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// StartOptions holds optional parameters for starting a process.
type StartOptions struct {
	// ExposePort marks the process as a long-running service listening on
	// this container port; the runtime makes it reachable via Endpoint.
	// Zero means a run-to-completion command.
	ExposePort int
}
