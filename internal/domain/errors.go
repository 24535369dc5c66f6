package domain

import "errors"

var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrDuplicate   = errors.New("duplicate record")
	ErrOutOfOrder  = errors.New("model_trained_at must be greater than the current run")
	ErrRunInFlight = errors.New("aggregator run already in flight")
	ErrRunTimeout  = errors.New("aggregator run exceeded its maximum duration")
	ErrNoSnapshot  = errors.New("no metrics snapshot published yet")
)
