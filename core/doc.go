// Package core provides the foundational domain types used across semachat.
// It defines the shared vocabulary for:
//
//   - Messages (immutable conversational turns with role + timestamp)
//   - Sessions (keyed, ordered histories with bounded length and lifecycle)
//   - Stream chunks (increments of an in-progress generation terminated by a
//     designated final chunk)
//   - The error taxonomy (load, not-loaded, generation, capacity,
//     session-not-found, validation)
//
// The package intentionally keeps implementation concerns (backends, storage,
// orchestration) out of scope so the orchestrator, backend variants and
// session stores can share one small dependency without depending on each
// other.
package core
