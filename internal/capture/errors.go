package capture

import (
	"errors"
	"fmt"
)

// ErrNotSupported is returned when no capture backend can run in the
// current environment.
var ErrNotSupported = errors.New("no supported capture backend")

// ErrAlreadyStarted is returned when Start is called on a running backend.
var ErrAlreadyStarted = errors.New("capturer already started")

// ErrMonitorNotFound is returned when a monitor descriptor cannot be
// resolved to screen geometry. It indicates a caller error, not an
// environmental failure, so no backoff is recorded for it.
var ErrMonitorNotFound = errors.New("monitor not found")

// UnavailableError reports that a backend could not start. Permanent
// failures (the capture runtime is structurally absent) retire the
// compositor path for the process; temporary ones only put the affected
// monitor on cooldown.
type UnavailableError struct {
	Backend   string
	Permanent bool
	Err       error
}

func (e *UnavailableError) Error() string {
	kind := "temporarily"
	if e.Permanent {
		kind = "permanently"
	}
	return fmt.Sprintf("%s capture %s unavailable: %v", e.Backend, kind, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// permanentFailure reports whether err carries a permanent
// UnavailableError.
func permanentFailure(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue) && ue.Permanent
}
