/*
Package scheduler exposes the pull-based claim/report surface for workers.

Workers poll Claim with their UID. The store picks the oldest pending task
whose function requirements fit the worker's available resources, reserves
those resources, and returns the assignment. Report records the outcome,
releases the reservation, and rolls the function up when its last task
finishes.

Placement is first-fit FIFO, not bin packing: the queue order decides which
task is offered, and the worker either fits it or fails the claim. This
keeps claims O(pending) with no coordination beyond the store transaction.

The atomicity guarantee lives below this package (single-writer store
transactions behind the Raft log); the scheduler layers metrics, events,
and logging on top.
*/
package scheduler
