package eventloop

import "errors"

var (
	// ErrStopped is returned when posting to a loop that has been stopped.
	ErrStopped = errors.New("eventloop: stopped")

	// ErrAlreadyRunning is returned when Run is called twice concurrently.
	ErrAlreadyRunning = errors.New("eventloop: already running")
)
