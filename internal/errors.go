package haven

import "errors"

// Sentinel errors for the gateway domain. Handlers map these to HTTP
// statuses in one place; services wrap them with %w so callers can
// pattern-match on failure kind with errors.Is.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUpstream     = errors.New("upstream failure")
	ErrStorage      = errors.New("storage failure")
)
