package rdm

import "errors"

// Domain errors for RDM value types.
var (
	// ErrInvalidUID is returned when a UID cannot be parsed or decoded.
	ErrInvalidUID = errors.New("rdm: invalid uid")

	// ErrIncompatibleResponses is returned when two response fragments
	// cannot be combined.
	ErrIncompatibleResponses = errors.New("rdm: incompatible responses")

	// ErrParamDataTooLong is returned when parameter data exceeds
	// MaxParamDataLength.
	ErrParamDataTooLong = errors.New("rdm: parameter data too long")
)
