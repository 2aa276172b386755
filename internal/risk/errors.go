package risk

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	DetectorAmount    = "amount_anomaly"
	DetectorDuplicate = "duplicate"
	DetectorFraud     = "fraud"
)

// DetectorError records which detector failed to read its history.
type DetectorError struct {
	Detector string
	Err      error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("%s detector: %v", e.Detector, e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }

// AggregateError collects the detectors that failed during CheckAllAnomalies.
// History reads are safe to repeat, so it is always retryable.
type AggregateError struct {
	Errs []*DetectorError
}

func (e *AggregateError) Error() string {
	parts := make([]string, 0, len(e.Errs))
	for _, de := range e.Errs {
		parts = append(parts, de.Error())
	}
	sort.Strings(parts)
	return "risk assessment incomplete: " + strings.Join(parts, "; ")
}

func (e *AggregateError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errs))
	for _, de := range e.Errs {
		errs = append(errs, de)
	}
	return errs
}

func (e *AggregateError) Retryable() bool { return true }

// IsRetryable reports whether err, or anything it wraps, declares itself
// retryable.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}
