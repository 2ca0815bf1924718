// Package store provides SQLite-backed durable storage for the blq
// attempt/outcome ledger and its content-addressed output blobs.
//
// The store implements an append-only log with:
//   - Attempts: command-start records, written before the result is known
//   - Outcomes: completion records, at most one per attempt
//   - Invocations: denormalized completed-execution records
//   - Outputs: captured stream content references (inline or blob)
//   - Events: parsed diagnostics attached to invocations
//
// # Lifecycle
//
// Status is derived, never stored. A LEFT JOIN of attempts to outcomes
// yields pending (no outcome), orphaned (outcome with NULL exit code), or
// completed (outcome with an exit code). Both terminal states are final.
// AttemptStatus computes this live on every call; a concurrent writer may
// complete an attempt between calls, so the result is never cached.
//
// # Write discipline
//
// WriteAttempt must precede WriteOutcome for the same attempt. This is
// caller discipline, not a transaction; the UNIQUE(attempt_id) constraint
// on outcomes is the safety net that makes a duplicate outcome write
// idempotent instead of corrupting.
//
// All mutating methods run under the Retryer: lock contention (classified
// by substring, since SQLite's error taxonomy is string-based) is retried
// with exponential backoff and jitter; any other error propagates
// immediately and the last error is surfaced after retry exhaustion.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Output content identity is raw-byte SHA-256; see blob.go for the
// inline/blob threshold policy and the reference-counted blob registry.
package store
