package pagereport

import "github.com/pkg/errors"

// Errors surfaced across the §6.1 API boundary. Per §7, these are the
// only failures the core reports to a caller — everything else (a
// false-positive mark, an isolation failure, a reporter callback that
// errors) is internal and either retried implicitly or dropped.
var (
	// ErrBusy is returned by Enable when a configuration is already
	// Active.
	ErrBusy = errors.New("pagereport: already active")

	// ErrOutOfMemory is returned by Enable when allocating the
	// per-region candidate indices fails. Enable rolls back any partial
	// allocation before returning it, leaving the controller cleanly
	// Disabled. The staging batch is not allocated by Enable; each scan
	// allocates its own.
	ErrOutOfMemory = errors.New("pagereport: allocation failed")

	// ErrInvalidConfig is returned by Enable for a config that can
	// never make progress (e.g. MaxPages == 0).
	ErrInvalidConfig = errors.New("pagereport: invalid configuration")
)
