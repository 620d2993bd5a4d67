package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vinci4d/engine/pkg/storage"
	"github.com/vinci4d/engine/pkg/types"
)

type createGridRequest struct {
	Name   string `json:"name" binding:"required"`
	Length int    `json:"length" binding:"required,min=1"`
	Width  int    `json:"width" binding:"required,min=1"`
}

// createGrid registers the grid and provisions its workers in the background
func (s *Server) createGrid(c *gin.Context) {
	var req createGridRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	grid := &types.Grid{
		Name:   req.Name,
		Length: req.Length,
		Width:  req.Width,
	}
	if err := s.mgr.CreateGrid(grid); err != nil {
		abortWithError(c, err)
		return
	}

	go s.mgr.ProvisionGrid(grid.UID)

	c.JSON(http.StatusAccepted, grid)
}

func (s *Server) listGrids(c *gin.Context) {
	grids, err := s.mgr.ListGrids()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grids": grids})
}

func (s *Server) getGrid(c *gin.Context) {
	grid, err := s.mgr.GetGrid(c.Param("uid"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, grid)
}

func (s *Server) activateGrid(c *gin.Context) {
	grid, err := s.mgr.ActivateGrid(c.Param("uid"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, grid)
}

func (s *Server) pauseGrid(c *gin.Context) {
	grid, err := s.mgr.PauseGrid(c.Param("uid"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, grid)
}

func (s *Server) terminateGrid(c *gin.Context) {
	grid, err := s.mgr.TerminateGrid(c.Param("uid"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, grid)
}

func (s *Server) recomputeGrid(c *gin.Context) {
	grid, err := s.mgr.RecomputeGrid(c.Param("uid"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, grid)
}

func (s *Server) listGridWorkers(c *gin.Context) {
	// 404 for unknown grids rather than an empty list
	if _, err := s.mgr.GetGrid(c.Param("uid")); err != nil {
		abortWithError(c, err)
		return
	}

	workers, err := s.mgr.ListWorkers(storage.WorkerFilter{GridUID: c.Param("uid")})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workers": workers})
}
