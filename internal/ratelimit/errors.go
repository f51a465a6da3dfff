package ratelimit

import "errors"

// ErrInvalidConfig indicates a malformed limit or algorithm name.
var ErrInvalidConfig = errors.New("invalid rate limit config")

// ErrBackendUnavailable indicates that neither the configured counter store
// nor the in-memory fallback could decide. How that maps onto allow/deny is a
// per-resource policy choice; security-relevant resources deny by default.
var ErrBackendUnavailable = errors.New("rate limit backend unavailable")
