package rib

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed action payload. plan() returns it
// without ever touching the current RouteTable, matching
// controlplane/controller/internal/controller/server.go's pattern of
// package-level sentinel errors plus a constructor for the parameterized
// cases.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

func newValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

var (
	// ErrPeerTokenRequired is returned by LocalPeerCreate when PeerToken is empty.
	ErrPeerTokenRequired = &ValidationError{Reason: "peerToken is required"}

	// ErrStalePlan is returned by Commit when the current state has moved
	// past the version the plan was computed against.
	ErrStalePlan = errors.New("rib: stale plan, current state has advanced")
)

// AuthError reports a token-verification failure. The reducer itself never
// returns this kind; it is defined here so the Peering Engine and Public RPC
// Surface can satisfy the same error-kind vocabulary described in spec §7.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return "auth: " + e.Reason }

// FatalError marks a reducer invariant violation with no recoverable path
// (spec §7's "Fatal" kind): a commit retried after ErrStalePlan exhausted
// its retry budget. Code that observes it should abort the process.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string { return "fatal: " + e.Reason }
