/*
Package storage provides BoltDB-backed state persistence for the engine's
grid-compute data.

The storage package implements the Store interface using BoltDB as the
underlying database, providing ACID transactions for grids, workers,
functions, and tasks. All data is serialized as JSON and stored in separate
buckets for efficient querying and isolation.

# Architecture

The engine uses BoltDB (bbolt) for embedded, transactional storage with zero
external dependencies:

	┌──────────────────── BOLTDB STORAGE ──────────────────┐
	│                                                       │
	│  ┌────────────────────────────────────────┐          │
	│  │            BoltStore                    │          │
	│  │  - File: <dataDir>/engine.db            │          │
	│  │  - Format: B+tree with MVCC             │          │
	│  │  - Transactions: ACID with fsync        │          │
	│  └──────────────────┬─────────────────────┘          │
	│                     │                                 │
	│  ┌──────────────────▼─────────────────────┐          │
	│  │           Bucket Structure              │          │
	│  │  ┌──────────────────────────┐           │          │
	│  │  │ grids       (Grid UID)   │           │          │
	│  │  │ workers     (Worker UID) │           │          │
	│  │  │ functions   (Function UID)│          │          │
	│  │  │ tasks       (Task UID)   │           │          │
	│  │  └──────────────────────────┘           │          │
	│  └──────────────────┬─────────────────────┘          │
	│                     │                                 │
	│  ┌──────────────────▼─────────────────────┐          │
	│  │        Transaction Management           │          │
	│  │  - Read: db.View() - Concurrent reads   │          │
	│  │  - Write: db.Update() - Serialized      │          │
	│  │  - Rollback: Automatic on error         │          │
	│  │  - Commit: Automatic on success + fsync │          │
	│  └────────────────────────────────────────┘          │
	└───────────────────────────────────────────────────────┘

# Transactional Primitives

Beyond plain CRUD, the Store exposes multi-entity primitives that commit as
single write transactions. These are where the scheduling invariants live:

ClaimTask:
  - Loads the worker, requires online or busy status
  - Scans pending tasks in FIFO order (CreatedAt, then BatchIndex, then UID)
  - Reserves the first task whose function requirements fit the worker's
    available CPU, memory, and GPU
  - Flips the task to running and the worker to busy atomically
  - BoltDB admits one writer at a time, so two concurrent claims can never
    both observe the same task as pending

ReportTask:
  - Records the terminal outcome (completed or failed)
  - Releases the worker reservation taken at claim time
  - Runs the completion rollup: when the last sibling task finishes, the
    function ends failed if any sibling failed, completed otherwise
  - Reporting an already-terminal task is a no-op success (retry safe)

StartFunction:
  - Requires a startable function (ready or pending)
  - Inserts the full task batch and flips the function to running as one
    unit; a failure anywhere rolls the whole start back

Grid lifecycle (InitializeGrid, ActivateGrid, PauseGrid, TerminateGrid):
  - Status transitions validated against the closed transition tables in
    pkg/types
  - Worker status fan-out (activate brings offline workers online with a
    fresh heartbeat, pause takes them offline) happens in the same
    transaction as the grid flip
  - Every mutation ends by recomputing the grid's derived aggregates
    (worker_count, busy_workers, free_slots, utilization) from the actual
    worker set

# Design Patterns

Upsert Pattern:
  - Create and Update use the same Put; no separate exists check

Filter Pattern:
  - List all, filter in memory (ListWorkers, ListTasks)
  - Simple implementation for small datasets

In-Transaction Uniqueness:
  - Worker name uniqueness is checked inside the same write transaction
    that inserts the worker, so racing creates cannot both pass

Error Taxonomy:
  - Missing entities return errdefs.ErrNotFound
  - Illegal lifecycle moves return errdefs.ErrInvalidState
  - A claim with pending work that fits nowhere returns
    errdefs.ErrResourceExhausted; an empty queue returns errdefs.ErrNoTask

# Usage

	store, err := storage.NewBoltStore("/var/lib/vinci4d")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	res, err := store.ClaimTask(workerUID)
	switch {
	case errdefs.IsNoTask(err):
		// queue empty, poll again later
	case errdefs.IsResourceExhausted(err):
		// pending work exists but nothing fits this worker
	case err != nil:
		// real failure
	default:
		run(res.Assignment)
	}

# See Also

  - pkg/manager for Raft FSM integration
  - pkg/types for all entity definitions
  - pkg/ledger for the reservation arithmetic used by claim and release
  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
