package store

import "errors"

// ErrStorageFailure wraps any I/O error surfaced by the State Store. Per the
// error handling design, callers treat it as non-fatal within a loop
// iteration: log and move on.
var ErrStorageFailure = errors.New("storage failure")
