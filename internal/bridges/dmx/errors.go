package dmx

import "errors"

// Domain errors for the DMX bridge package.
var (
	// ErrInvalidOptions is returned by NewBridge when a required dependency
	// is missing.
	ErrInvalidOptions = errors.New("dmx: invalid options")

	// ErrInvalidParameter is returned when a command or request parameter
	// is missing or malformed.
	ErrInvalidParameter = errors.New("dmx: invalid parameter")

	// ErrUnknownAction is returned for request actions the bridge does not
	// implement.
	ErrUnknownAction = errors.New("dmx: unknown action")

	// ErrUnknownCommand is returned for DMX commands the bridge does not
	// implement.
	ErrUnknownCommand = errors.New("dmx: unknown command")

	// ErrStopped is returned when work is submitted after Stop.
	ErrStopped = errors.New("dmx: bridge stopped")
)
