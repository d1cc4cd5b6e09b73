package model

import "errors"

// Error kinds shared across the graph store, vector store and engine. Callers
// match them with errors.Is; lookup APIs return ErrNotFound as a normal
// "maybe absent" outcome rather than treating it as exceptional.
var (
	ErrNotFound           = errors.New("not found")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrValidation         = errors.New("validation failed")
	ErrProvider           = errors.New("external provider failed")
)
