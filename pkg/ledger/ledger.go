package ledger

import (
	"fmt"
	"time"

	"github.com/vinci4d/engine/pkg/errdefs"
	"github.com/vinci4d/engine/pkg/types"
)

// Reserve takes the requested resources from the worker's availability and
// records a reservation under taskUID. It fails without side effects when any
// requested quantity exceeds availability, when a GPU is required but the
// worker has none, or when the task already holds a reservation on this
// worker. On success the worker is flipped to busy.
func Reserve(worker *types.Worker, taskUID string, req types.ResourceRequirements) error {
	if worker.Reservations == nil {
		worker.Reservations = make(map[string]*types.Reservation)
	}

	if _, held := worker.Reservations[taskUID]; held {
		return fmt.Errorf("task %s already holds a reservation on worker %s: %w",
			taskUID, worker.UID, errdefs.ErrConflictingClaim)
	}
	if req.CPU > worker.CPUAvailable {
		return fmt.Errorf("worker %s: need %.2f cores, %.2f available: %w",
			worker.UID, req.CPU, worker.CPUAvailable, errdefs.ErrResourceExhausted)
	}
	if req.MemoryMB > worker.MemoryAvailableMB {
		return fmt.Errorf("worker %s: need %d MB, %d MB available: %w",
			worker.UID, req.MemoryMB, worker.MemoryAvailableMB, errdefs.ErrResourceExhausted)
	}
	if req.GPU && worker.GPUID == "" {
		return fmt.Errorf("worker %s: no GPU: %w", worker.UID, errdefs.ErrResourceExhausted)
	}

	worker.CPUAvailable -= req.CPU
	worker.MemoryAvailableMB -= req.MemoryMB
	worker.Reservations[taskUID] = &types.Reservation{
		TaskUID:    taskUID,
		CPU:        req.CPU,
		MemoryMB:   req.MemoryMB,
		GPU:        req.GPU,
		ReservedAt: time.Now(),
	}
	worker.Status = types.WorkerStatusBusy

	return nil
}

// Release restores the availability held by taskUID's reservation and removes
// it. Releasing a reservation that does not exist is a no-op returning false,
// so double-release cannot over-credit the counters. When the last
// reservation goes, a busy worker returns to online.
func Release(worker *types.Worker, taskUID string) bool {
	res, held := worker.Reservations[taskUID]
	if !held {
		return false
	}

	worker.CPUAvailable += res.CPU
	worker.MemoryAvailableMB += res.MemoryMB
	if worker.CPUAvailable > worker.CPUTotal {
		worker.CPUAvailable = worker.CPUTotal
	}
	if worker.MemoryAvailableMB > worker.MemoryTotalMB {
		worker.MemoryAvailableMB = worker.MemoryTotalMB
	}
	delete(worker.Reservations, taskUID)

	if len(worker.Reservations) == 0 && worker.Status == types.WorkerStatusBusy {
		worker.Status = types.WorkerStatusOnline
	}

	return true
}

// Outstanding returns the number of reservations currently held on the worker
func Outstanding(worker *types.Worker) int {
	return len(worker.Reservations)
}
