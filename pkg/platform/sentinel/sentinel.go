package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and services translate them into coded domain errors:
//   - ErrNotFound: the row does not exist
//   - ErrConflict: a uniqueness constraint rejected the write
//   - ErrInvalidState: the row is not in the state the write expects
//   - ErrUnavailable: a backing dependency could not be reached
//
// Input validation never uses these; it returns pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
