package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vinci4d/engine/pkg/storage"
	"github.com/vinci4d/engine/pkg/types"
)

type createWorkerRequest struct {
	Name        string            `json:"name" binding:"required"`
	GridUID     string            `json:"grid_uid" binding:"required"`
	CPU         float64           `json:"cpu"`
	MemoryMB    int64             `json:"memory_mb"`
	GPUID       string            `json:"gpu_id"`
	GPUMemoryMB int64             `json:"gpu_memory_mb"`
	Spec        map[string]string `json:"spec"`
}

// createWorker adds a worker to an existing grid. Unset resources fall back
// to the default profile.
func (s *Server) createWorker(c *gin.Context) {
	var req createWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := s.mgr.GetGrid(req.GridUID); err != nil {
		abortWithError(c, err)
		return
	}

	cpu, memoryMB, spec := types.DefaultWorkerProfile()
	if req.CPU > 0 {
		cpu = req.CPU
	}
	if req.MemoryMB > 0 {
		memoryMB = req.MemoryMB
	}
	if req.Spec != nil {
		spec = req.Spec
	}

	worker := &types.Worker{
		Name:              req.Name,
		GridUID:           req.GridUID,
		CPUTotal:          cpu,
		CPUAvailable:      cpu,
		MemoryTotalMB:     memoryMB,
		MemoryAvailableMB: memoryMB,
		GPUID:             req.GPUID,
		GPUMemoryMB:       req.GPUMemoryMB,
		Status:            types.WorkerStatusOffline,
		Spec:              spec,
	}
	if err := s.mgr.CreateWorker(worker); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, worker)
}

func (s *Server) listWorkers(c *gin.Context) {
	filter := storage.WorkerFilter{
		GridUID: c.Query("grid_uid"),
		Status:  types.WorkerStatus(c.Query("status")),
	}

	workers, err := s.mgr.ListWorkers(filter)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workers": workers})
}

func (s *Server) getWorker(c *gin.Context) {
	worker, err := s.mgr.GetWorker(c.Param("uid"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, worker)
}

func (s *Server) deleteWorker(c *gin.Context) {
	if err := s.mgr.DeleteWorker(c.Param("uid")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) workerOnline(c *gin.Context) {
	worker, err := s.mgr.SetWorkerOnline(c.Param("uid"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, worker)
}

func (s *Server) workerOffline(c *gin.Context) {
	worker, err := s.mgr.SetWorkerOffline(c.Param("uid"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, worker)
}

func (s *Server) workerHeartbeat(c *gin.Context) {
	if err := s.mgr.HeartbeatWorker(c.Param("uid")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
