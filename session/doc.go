// Package session tracks logical users of the execution service: the
// registry of sessions, the per-session execution locks and the optional
// stores that mirror session metadata (memory, Redis).
package session
