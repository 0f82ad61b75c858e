// Package session provides pluggable storage for conversation state. Two
// implementations exist: a volatile in-memory store with a background TTL
// sweep, and a Redis-backed store that delegates expiry to the server's
// native key TTLs. Both serialize appends per session key, never globally.
package session
