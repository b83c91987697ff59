package demux

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidNALUnits is returned for a non-empty payload that holds no
	// start-code delimited units (not an Annex B stream).
	ErrInvalidNALUnits = errors.New("invalid NAL units")

	// ErrMissingParameterSets is returned when a coded frame arrives before any
	// SPS/PPS pair has been seen in the session. The frame is skipped.
	ErrMissingParameterSets = errors.New("coded frame before SPS/PPS")

	// ErrDescriptorConstruction is returned when an SPS/PPS pair is present but
	// cannot be turned into a format descriptor. The segment is skipped.
	ErrDescriptorConstruction = errors.New("format descriptor construction failed")
)

// Error ties a demux failure to the segment it came from.
type Error struct {
	Locator string
	Err     error
}

func (e *Error) Error() string {
	if e.Locator == "" {
		return "demux: " + e.Err.Error()
	}
	return fmt.Sprintf("demux %s: %v", e.Locator, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorKind returns a short label for err suitable for metrics and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidNALUnits):
		return "invalid_nal_units"
	case errors.Is(err, ErrMissingParameterSets):
		return "missing_parameter_sets"
	case errors.Is(err, ErrDescriptorConstruction):
		return "descriptor_construction"
	default:
		return "other"
	}
}
