package models

import (
	"errors"
	"fmt"
)

// DataQualityError marks malformed or missing mandatory feature inputs for a
// SKU. Recovered locally: the SKU is skipped for the run, never fatal.
type DataQualityError struct {
	SKU    string
	Field  string
	Reason string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("data quality: sku=%s field=%s: %s", e.SKU, e.Field, e.Reason)
}

// ModelError marks inconsistent history handed to the forecaster.
type ModelError struct {
	SKU    string
	Reason string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model: sku=%s: %s", e.SKU, e.Reason)
}

// TransientIOError wraps store or upstream failures worth retrying.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient io: %s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// PersistenceIntegrityError marks a write that would violate the (sku, date)
// uniqueness or transaction invariant. It indicates a logic bug, so it is
// surfaced as a run-level defect and never retried.
type PersistenceIntegrityError struct {
	SKU string
	Err error
}

func (e *PersistenceIntegrityError) Error() string {
	return fmt.Sprintf("persistence integrity: sku=%s: %v", e.SKU, e.Err)
}

func (e *PersistenceIntegrityError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable at a stage boundary.
func IsTransient(err error) bool {
	var te *TransientIOError
	return errors.As(err, &te)
}

// IsIntegrity reports whether err is a persistence integrity violation.
func IsIntegrity(err error) bool {
	var pe *PersistenceIntegrityError
	return errors.As(err, &pe)
}
