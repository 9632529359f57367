package models

import "errors"

var (
	ErrInvalidRequest   = errors.New("invalid inference request")
	ErrInvalidConfig    = errors.New("invalid scheduler config")
	ErrEmptyBatch       = errors.New("batch request list is empty")
	ErrInferenceTimeout = errors.New("inference timeout")
	ErrInferenceFailed  = errors.New("batch inference failed")
	ErrShuttingDown     = errors.New("scheduler is shutting down")
)
