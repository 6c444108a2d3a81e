// Package simerr defines the error taxonomy shared across the simulation
// core (SPEC_FULL.md §7). Components wrap one of these sentinels with
// fmt.Errorf("...: %w", ...) at call boundaries; callers test for a kind
// with errors.Is (or Is below).
package simerr

import "errors"

// Taxonomy kinds. These are not HTTP status codes or exception classes —
// they are the handling policy buckets from §7.
var (
	// ErrGeometry covers degenerate polygons and zero-length segments.
	// Policy: log and skip.
	ErrGeometry = errors.New("geometry error")

	// ErrConfig covers a missing required key or an out-of-range value.
	// Policy: fatal at startup.
	ErrConfig = errors.New("config error")

	// ErrDataStore covers non-2xx HTTP responses and timeouts from the
	// geographic data store. Policy: retry with capped backoff; the
	// previous snapshot is retained.
	ErrDataStore = errors.New("data store error")

	// ErrBusTimeout covers a request/response call that did not receive a
	// correlated reply before its deadline. Policy: surfaced to the
	// caller, which decides retry or fallback.
	ErrBusTimeout = errors.New("bus timeout")

	// ErrState covers an illegal state-machine transition. Policy: logged
	// and skipped, never silently ignored.
	ErrState = errors.New("illegal state transition")

	// ErrCapacityRejection is not a failure: the rider(s) remain WAITING
	// and are re-offered on the next tick. It exists so callers can choose
	// whether to count it, not so they treat it as an error to recover
	// from.
	ErrCapacityRejection = errors.New("capacity rejection")
)

// Is reports whether err is, or wraps, one of the taxonomy sentinels above.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
