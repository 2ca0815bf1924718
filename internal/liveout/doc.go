// Package liveout implements the filesystem-resident live output channel
// for still-running attempts.
//
// Each attempt gets a directory under <lq>/live/<attempt_id>/ holding
// meta.json and one append-only log file per stream. The directory's
// existence is itself meaningful state: it signals that something started
// and its outcome is not yet known. Channels exist only while an attempt
// is pending; completion finalizes the content into the blob store and a
// separate explicit Cleanup removes the directory, so a crash between the
// two leaves recoverable state (re-finalization is idempotent at the
// content-hash level).
//
// Concurrency: only the owning executor ever writes a given attempt's
// stream file. Readers open the same file with independent offsets, so no
// coordination is needed; appended bytes appear to every reader in write
// order. Follow is polling-based rather than inotify-based, a portability
// choice - latency is bounded by the poll interval, which is acceptable
// for human and agent observation.
//
// List enumerates every live directory regardless of ledger status. A
// directory the ledger no longer expects is stale: its attempt already
// has an outcome, or the ledger never saw the attempt at all. Stale dirs
// are what 'clean --live' removes.
package liveout
