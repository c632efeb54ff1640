// Package sentinel holds the infrastructure errors stores return. Services
// match them with errors.Is and map them to domain codes or fail policies;
// input validation errors belong in pkg/domain-errors instead.
package sentinel

import "errors"

var (
	// ErrNotFound means the entity does not exist in the store.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable means the store could not answer: unreachable, timed
	// out, circuit open or a script error.
	ErrUnavailable = errors.New("unavailable")
)
