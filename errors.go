package rdd

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingInput indicates that a required field is absent for a
	// unit.  The unit is dropped from the analysis, never imputed.
	ErrMissingInput = errors.New("missing required input")

	// ErrInsufficientData indicates that fewer observations than a fit
	// requires lie within the bandwidth.  The affected cell is marked
	// unavailable.
	ErrInsufficientData = errors.New("insufficient data within bandwidth")

	// ErrSingularFit indicates a rank-deficient design matrix, e.g. too
	// few distinct running-variable values within the bandwidth.
	ErrSingularFit = errors.New("singular design matrix")

	// ErrConfig indicates an invalid combination of options, e.g.
	// clustering requested without cluster ids.  This is a caller bug
	// and aborts the run for the affected subgroup.
	ErrConfig = errors.New("invalid configuration")
)

// cellError tags one of the recoverable error kinds with fit context so
// the runner can log where a cell failed.
func cellError(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// errorReason returns a short tag for the run summary tally.
func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrSingularFit):
		return "singular_fit"
	case errors.Is(err, ErrMissingInput):
		return "missing_input"
	case errors.Is(err, ErrConfig):
		return "config"
	default:
		return "other"
	}
}
