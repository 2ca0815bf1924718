// Package runner executes commands synchronously while recording them
// through the two-phase ledger.
//
// The ordering discipline is the whole point: the attempt row is written
// before the child spawns, the outcome row after it stops, and the live
// output channel exists in between. Anything that dies mid-run leaves a
// pending attempt plus a live directory, which is exactly the state the
// status views know how to report.
//
// Output capture is combined (stdout and stderr share one pipe) and
// line-oriented. A reader goroutine scans the pipe into a bounded line
// queue; the drain loop writes lines to the live file while staying free
// to poll the execution deadline and the context.
package runner
