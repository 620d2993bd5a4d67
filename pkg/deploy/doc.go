/*
Package deploy realizes workers as Kubernetes workloads.

Each worker becomes a single-replica StatefulSet plus a headless Service,
both named vinci4dworker-<name>. The container is limited at the worker's
declared capacity and requests 80% of it; a GPU worker adds an
nvidia.com/gpu limit. The pod learns its identity through the
VINCI4D_WORKER_UID and VINCI4D_GRID_UID environment variables and polls the
API for work.

The Dispatcher decouples control-plane transactions from the Kubernetes
API: the manager enqueues create/delete operations and returns immediately;
a single drain goroutine executes them with linear-backoff retries. An
operation that keeps failing lands on the dead-letter list after three
attempts and is surfaced through events and metrics rather than blocking
the grid.

Deployment state is not replicated. On leader failover the supervisor's
heartbeat sweep converges worker status with reality; a dead-lettered
worker simply never comes online.
*/
package deploy
