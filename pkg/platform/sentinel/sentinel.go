package sentinel

import "errors"

// Sentinel dependency errors. Dependencies should return these (optionally wrapped)
// so services can translate them into domain errors exactly once.
var (
	ErrNotFound    = errors.New("not found")
	ErrEmpty       = errors.New("empty")
	ErrInvalidData = errors.New("invalid data")
	ErrConflict    = errors.New("revision conflict")
	ErrUnavailable = errors.New("unavailable")
)
