/*
Package ledger implements per-worker resource accounting.

The ledger is the only code path allowed to mutate a worker's availability
counters. Reserve/Release operate on the in-memory worker record; callers
persist the updated record inside the same storage transaction that claims or
completes the task, so concurrent assignment and completion can never
under- or over-count.

Each reservation is recorded under its task UID, which makes release
idempotent: releasing a reservation that is no longer held restores nothing.
A worker is busy exactly while it holds at least one reservation.
*/
package ledger
