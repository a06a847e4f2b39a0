package gateway

import (
	"errors"
	"fmt"
)

// StartError reports that the gateway process could not reach a running
// state. Details carries whatever stderr/stdout the sandbox captured so the
// failure is diagnosable from the client-visible response.
type StartError struct {
	ProcessID string
	Status    string
	Details   string
}

func (e *StartError) Error() string {
	return fmt.Sprintf("gateway failed to start (status %s): %s", e.Status, e.Details)
}

// AsStartError unwraps err into a *StartError if possible.
func AsStartError(err error) (*StartError, bool) {
	var se *StartError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
