package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vinci4d/engine/pkg/storage"
	"github.com/vinci4d/engine/pkg/types"
)

type createFunctionRequest struct {
	Name           string                 `json:"name" binding:"required"`
	GridUID        string                 `json:"grid_uid" binding:"required"`
	ScriptPath     string                 `json:"script_path"`
	ArtifactoryURL string                 `json:"artifactory_url"`
	DockerImage    string                 `json:"docker_image"`
	BatchSize      int                    `json:"batch_size"`
	CPU            float64                `json:"cpu"`
	MemoryMB       int64                  `json:"memory_mb"`
	GPU            bool                   `json:"gpu"`
	TimeoutSeconds int                    `json:"timeout_seconds"`
	Params         map[string]interface{} `json:"params"`
}

func (s *Server) createFunction(c *gin.Context) {
	var req createFunctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := s.mgr.GetGrid(req.GridUID); err != nil {
		abortWithError(c, err)
		return
	}

	fn := &types.Function{
		Name:           req.Name,
		GridUID:        req.GridUID,
		ScriptPath:     req.ScriptPath,
		ArtifactoryURL: req.ArtifactoryURL,
		DockerImage:    req.DockerImage,
		BatchSize:      req.BatchSize,
		Params:         req.Params,
		Resources: types.ResourceRequirements{
			CPU:            req.CPU,
			MemoryMB:       req.MemoryMB,
			GPU:            req.GPU,
			TimeoutSeconds: req.TimeoutSeconds,
		},
	}
	if err := s.mgr.CreateFunction(fn); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, fn)
}

func (s *Server) listFunctions(c *gin.Context) {
	fns, err := s.mgr.ListFunctions()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"functions": fns})
}

func (s *Server) getFunction(c *gin.Context) {
	fn, err := s.mgr.GetFunction(c.Param("uid"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, fn)
}

// updateFunction replaces the mutable definition fields. Identity, status,
// and timestamps are preserved.
func (s *Server) updateFunction(c *gin.Context) {
	fn, err := s.mgr.GetFunction(c.Param("uid"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	var req createFunctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fn.Name = req.Name
	fn.ScriptPath = req.ScriptPath
	fn.ArtifactoryURL = req.ArtifactoryURL
	fn.DockerImage = req.DockerImage
	fn.BatchSize = req.BatchSize
	fn.Params = req.Params
	fn.Resources = types.ResourceRequirements{
		CPU:            req.CPU,
		MemoryMB:       req.MemoryMB,
		GPU:            req.GPU,
		TimeoutSeconds: req.TimeoutSeconds,
	}

	if err := s.mgr.UpdateFunction(fn); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, fn)
}

func (s *Server) deleteFunction(c *gin.Context) {
	if err := s.mgr.DeleteFunction(c.Param("uid")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type startFunctionRequest struct {
	Inputs []interface{}          `json:"inputs"`
	Params map[string]interface{} `json:"params"`
}

// startFunction batches the inputs and commits the start
func (s *Server) startFunction(c *gin.Context) {
	fn, err := s.mgr.GetFunction(c.Param("uid"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	// An empty body means a parameter-less start
	var req startFunctionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Inputs may also ride inside params for callers speaking the older shape
	inputs := req.Inputs
	if len(inputs) == 0 {
		if nested, ok := req.Params["inputs"].([]interface{}); ok {
			inputs = nested
		}
	}

	started, tasks, err := s.batch.Start(fn, inputs, req.Params)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"function": started,
		"tasks":    len(tasks),
	})
}

func (s *Server) cancelFunction(c *gin.Context) {
	res, err := s.mgr.CancelFunction(c.Param("uid"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"function":        res.Function,
		"cancelled_tasks": res.CancelledTasks,
	})
}

func (s *Server) listFunctionTasks(c *gin.Context) {
	if _, err := s.mgr.GetFunction(c.Param("uid")); err != nil {
		abortWithError(c, err)
		return
	}

	tasks, err := s.mgr.ListTasks(storage.TaskFilter{FunctionUID: c.Param("uid")})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}
