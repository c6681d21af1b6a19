package usbpro

import "errors"

// Domain-specific errors for the USB Pro transport and the DMX-TRI engine.
var (
	// ErrUnknownUID is returned when a unicast request names a UID that is
	// not in the device address table.
	ErrUnknownUID = errors.New("usbpro: uid not in device table")

	// ErrSendFailed is returned when a frame could not be written to the widget.
	ErrSendFailed = errors.New("usbpro: send failed")

	// ErrNotConnected is returned when the serial port is gone.
	ErrNotConnected = errors.New("usbpro: not connected")

	// ErrFrameTooLarge is returned for payloads over MaxPayloadSize.
	ErrFrameTooLarge = errors.New("usbpro: frame too large")

	// ErrInvalidFrame is returned when a frame is not terminated correctly.
	ErrInvalidFrame = errors.New("usbpro: invalid frame")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("usbpro: closed")

	// ErrInvalidOptions is returned when a required dependency is missing.
	ErrInvalidOptions = errors.New("usbpro: invalid options")
)
