package core

import "errors"

// Error taxonomy shared across backends, the manager, the session stores and
// the orchestrator. Callers classify failures with errors.Is; concrete error
// values wrap these sentinels with call-site context.
var (
	// ErrLoad indicates a backend failed to acquire its resources. Fatal to
	// activation of that backend, never to the process.
	ErrLoad = errors.New("backend load failed")

	// ErrNotLoaded indicates generation was attempted against a backend that
	// is not ready. Returned fast, before any upstream call.
	ErrNotLoaded = errors.New("backend not loaded")

	// ErrGeneration indicates an upstream or backend fault during generate or
	// stream.
	ErrGeneration = errors.New("generation failed")

	// ErrCapacity indicates the concurrent stream cap was exceeded.
	ErrCapacity = errors.New("stream capacity exceeded")

	// ErrSessionNotFound indicates the referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrValidation indicates a malformed request at the orchestrator
	// boundary, e.g. a missing session id.
	ErrValidation = errors.New("invalid request")
)
