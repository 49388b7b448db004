package models

import "errors"

var (
	// ErrValidation marks malformed inputs for a single case: missing table
	// columns, mismatched file lists, provenance inconsistent with topology.
	ErrValidation = errors.New("validation error")

	// ErrConfiguration marks invalid settings detected before any case runs.
	ErrConfiguration = errors.New("configuration error")

	// ErrSampling is returned when a defect type cannot be sampled for a case.
	ErrSampling = errors.New("sampling error")
)
