package sentinel

import "errors"

// Sentinel errors for infrastructure facts. The gateway, stores and session
// storage return these (optionally wrapped) so services can translate them into
// domain errors.
//
//   - ErrNotFound: row or key does not exist
//   - ErrConflict: a write collided with existing data
//   - ErrInvalidState: entity in wrong state for the requested operation
//   - ErrUnavailable: backend temporarily unreachable or timed out
//   - ErrClosed: the component was closed and accepts no more work
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrClosed       = errors.New("closed")
)
