package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"camcoord/pkg/cluster"
)

// clusterStatus handles GET /v1/cluster/status
func (s *Server) clusterStatus(c *gin.Context) {
	status := s.manager.Status()

	resp := gin.H{
		"node_id":        status.NodeID,
		"node_addr":      status.NodeAddr,
		"role":           status.Role,
		"term":           status.Term,
		"leader_id":      status.LeaderID,
		"leader_addr":    status.LeaderAddr,
		"peers":          status.Peers,
		"last_heartbeat": status.LastHeartbeat,
	}

	// Host stats help operators spot a coordinator starving under load
	// before elections start flapping. Best effort only.
	if v, err := mem.VirtualMemory(); err == nil {
		resp["memory_used_percent"] = v.UsedPercent
	}
	if avg, err := load.Avg(); err == nil {
		resp["load_avg_1m"] = avg.Load1
	}

	c.JSON(http.StatusOK, resp)
}

// getLeader handles GET /v1/cluster/leader
func (s *Server) getLeader(c *gin.Context) {
	id, addr := s.manager.Leader()
	if id == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "no leader known, election may be in progress",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"leader_id":   id,
		"leader_addr": addr,
		"term":        s.manager.Term(),
	})
}

// handleVote handles POST /v1/cluster/vote, the receiving side of the
// peer-to-peer election RPC.
func (s *Server) handleVote(c *gin.Context) {
	var req cluster.VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid vote request: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, s.manager.HandleVoteRequest(req))
}

// handleHeartbeat handles POST /v1/cluster/heartbeat
func (s *Server) handleHeartbeat(c *gin.Context) {
	var req cluster.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid heartbeat: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, s.manager.HandleHeartbeat(req))
}
