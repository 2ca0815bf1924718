// Package record defines the data model for the blq ledger.
//
// The model separates three moments of a command's life:
//
//   - Attempt: the command started; its result is not yet known.
//   - Outcome: the command finished (or died); at most one per attempt.
//   - Invocation: the denormalized, queryable record written once the
//     outcome is known. Outputs and Events attach to invocations.
//
// Status is never stored. It is derived at read time from the presence and
// shape of the outcome:
//
//	no outcome                  -> pending
//	outcome with NULL exit code -> orphaned
//	outcome with exit code      -> completed
//
// Both terminal states are final; there is no cancel transition. A stuck
// pending attempt is an operator concern, detected via elapsed time.
package record
