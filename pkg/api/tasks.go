package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vinci4d/engine/pkg/errdefs"
)

type claimRequest struct {
	WorkerUID string `json:"worker_uid" binding:"required"`
}

// claimTask hands the polling worker its next assignment. An empty queue is
// a 204, not an error; the worker just polls again.
func (s *Server) claimTask(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.sched.Claim(req.WorkerUID)
	if err != nil {
		if errdefs.IsNoTask(err) {
			c.Status(http.StatusNoContent)
			return
		}
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, res.Assignment)
}

func (s *Server) getTask(c *gin.Context) {
	task, err := s.mgr.GetTask(c.Param("uid"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

type reportRequest struct {
	Success   *bool                  `json:"success" binding:"required"`
	Result    map[string]interface{} `json:"result"`
	Error     string                 `json:"error"`
	WorkerUID string                 `json:"worker_uid"`
}

func (s *Server) reportTask(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.sched.Report(c.Param("uid"), *req.Success, req.Result, req.Error, req.WorkerUID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task":            res.Task,
		"duplicate":       res.AlreadyTerminal,
		"function_done":   res.FunctionDone,
		"function_status": res.FunctionStatus,
	})
}
