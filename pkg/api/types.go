package api

import "github.com/Trueflutter/moltworker/pkg/sandbox"

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ListProcessesResponse contains the current process snapshot
type ListProcessesResponse struct {
	Processes []*sandbox.Process `json:"processes"`
}

// LogsResponse contains the captured output of one process
type LogsResponse struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// ExecRequest represents an ad-hoc command execution request
type ExecRequest struct {
	Command []string `json:"command"`
}

// ExecResponse contains the settled (or last observed) state of an ad-hoc
// command plus whatever output was captured
type ExecResponse struct {
	Process *sandbox.Process `json:"process"`
	Stdout  string           `json:"stdout"`
	Stderr  string           `json:"stderr"`
}
