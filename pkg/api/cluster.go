package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

type joinRequest struct {
	NodeID   string `json:"node_id" binding:"required"`
	RaftAddr string `json:"raft_addr" binding:"required"`
	Token    string `json:"token" binding:"required"`
}

// joinCluster validates the token and adds the node as a Raft voter
func (s *Server) joinCluster(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := s.mgr.ValidateJoinToken(req.Token); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	if err := s.mgr.AddVoter(req.NodeID, req.RaftAddr); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  err.Error(),
			"leader": s.mgr.LeaderAddr(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "joined"})
}

func (s *Server) listClusterServers(c *gin.Context) {
	servers, err := s.mgr.GetClusterServers()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"servers": servers})
}

type tokenRequest struct {
	Role string `json:"role" binding:"required"`
}

func (s *Server) generateToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := s.mgr.GenerateJoinToken(req.Role)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, token)
}

// streamEvents emits engine events as server-sent events until the client
// disconnects
func (s *Server) streamEvents(c *gin.Context) {
	broker := s.mgr.GetEventBroker()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-sub:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
