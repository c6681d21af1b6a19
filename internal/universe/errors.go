package universe

import "errors"

// Domain errors for buffer operations.
var (
	// ErrNilData is returned when a write is given a nil source slice.
	ErrNilData = errors.New("universe: nil data")

	// ErrOffsetOutOfRange is returned when a range write starts past the
	// universe size or past the current valid length.
	ErrOffsetOutOfRange = errors.New("universe: offset out of range")

	// ErrInvalidLength is returned when a range fill is given a negative length.
	ErrInvalidLength = errors.New("universe: invalid length")
)
