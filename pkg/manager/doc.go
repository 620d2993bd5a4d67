/*
Package manager implements the engine's control plane: a Raft-replicated
state machine over the BoltDB store.

# Architecture

	┌─────────────────── MANAGER NODE ───────────────────┐
	│                                                     │
	│   API / CLI / scheduler                             │
	│        │ mutations              │ reads             │
	│        ▼                        ▼                   │
	│   Manager.apply()          local BoltStore          │
	│        │                                            │
	│        ▼                                            │
	│   Raft log  ──replicate──▶  follower FSMs           │
	│        │                                            │
	│        ▼                                            │
	│   EngineFSM.Apply() ──▶ storage transactions        │
	│                                                     │
	└─────────────────────────────────────────────────────┘

Every mutation (grid lifecycle, worker registration, function start, task
claim and report) is serialized as a Command{Op, Data} into the Raft log
and applied to the store by EngineFSM. The FSM holds a mutex around Apply,
and the store itself admits one writer, so claims are doubly serialized:
two workers polling concurrently can never win the same task.

Reads bypass Raft and hit the local store. Followers may serve slightly
stale reads; anything that must be current flows through Apply.

# Command Set

Grid:     create_grid, init_grid, activate_grid, pause_grid,
          terminate_grid, grid_error, recompute_grid
Worker:   create_worker, worker_online, worker_offline, worker_heartbeat,
          delete_worker
Function: create_function, update_function, delete_function,
          start_function, cancel_function
Task:     claim_task, report_task

Operations with results (claim_task, report_task, terminate_grid, ...)
return their result struct from Apply; the leader reads it back through
future.Response(). Followers apply the same transaction and discard the
response.

# Grid Provisioning

CreateGrid commits the grid in creating status and returns. ProvisionGrid,
run in a goroutine, builds length x width workers with the default profile
(4 cores, 8192 MB, node_type standard), initializes the grid through Raft,
and hands the workers to the deploy dispatcher. Workers start offline and
come online when their deployments report in. A provisioning failure marks
the grid errored; it can be retried with activate after the cause is fixed.

# Snapshots

EngineFSM.Snapshot serializes the four entity lists as JSON; Restore
replays them into the store. Raft compacts its log against these
snapshots, so a rejoining node catches up from the latest snapshot plus
the log tail.
*/
package manager
