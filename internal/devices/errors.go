package devices

import "errors"

// Sentinel errors returned by Manager operations, grounded on the
// teacher's flat chain/errors.go block (spec §7: device-manager state
// errors are returned to the caller, not logged-and-swallowed).
var (
	ErrUnknownDevice = errors.New("devices: unknown device id")
	ErrStaleToken    = errors.New("devices: connection token is stale")
	ErrNotActive     = errors.New("devices: device is not active")
	ErrNotPaired     = errors.New("devices: device is not paired")
)
