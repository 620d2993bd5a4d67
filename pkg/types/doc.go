/*
Package types defines the core data structures of the Vinci4D grid engine.

This package contains the fundamental types that represent the engine's domain
model: grids, workers, functions, tasks, and the resource bookkeeping that ties
them together. These types are used by all other packages for state management,
API communication, and scheduling logic.

# Core Types

Grid topology:
  - Grid: a named pool of workers with a nominal length x width capacity and
    derived aggregates (utilization, free slots, busy/total worker counts)
  - Worker: an execution slot with CPU/memory/GPU capacity, a liveness
    heartbeat, and the set of reservations currently held against it

Work submission:
  - Function: a submitted unit of work with resource requirements and a batch
    size, split into tasks at start time
  - Task: one contiguous batch of a function's input, claimed by exactly one
    worker and reaching exactly one terminal state
  - TaskAssignment: the claim response handed to a polling worker

# Lifecycles

Every entity carries a closed status enumeration with an explicit transition
table; CanTransition rejects anything not in the table:

	Grid:     creating -> active <-> paused -> terminated
	                   \-> error -> active (recovery via activate)
	Worker:   offline <-> online <-> busy, any -> error
	Function: ready -> pending -> running -> completed | failed | cancelled
	Task:     pending -> running -> completed | failed | cancelled

Terminated grids and terminal function/task states have no outgoing
transitions.

All types are JSON-serializable and flow through the storage layer, the raft
log, and the REST API unchanged.
*/
package types
