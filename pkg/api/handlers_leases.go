package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"camcoord/pkg/coordinator"
	"camcoord/pkg/models"
	"camcoord/pkg/resilience"
	"camcoord/pkg/storage"
)

// AcquireLeaseRequest is the payload for POST /v1/leases/acquire.
type AcquireLeaseRequest struct {
	ResourceID string `json:"resource_id" binding:"required"`
	HolderID   string `json:"holder_id" binding:"required"`
	Kind       string `json:"kind" binding:"required"`
	TTLSecs    int    `json:"ttl_secs"`
}

// RenewLeaseRequest is the payload for POST /v1/leases/renew.
type RenewLeaseRequest struct {
	LeaseID string `json:"lease_id" binding:"required"`
	TTLSecs int    `json:"ttl_secs"`
}

// ReleaseLeaseRequest is the payload for POST /v1/leases/release.
type ReleaseLeaseRequest struct {
	LeaseID string `json:"lease_id" binding:"required"`
}

// acquireLease handles POST /v1/leases/acquire
func (s *Server) acquireLease(c *gin.Context) {
	var req AcquireLeaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if err := s.validator.ValidateResourceID(req.ResourceID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.ValidateHolderID(req.HolderID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := s.svc.Acquire(c.Request.Context(), req.ResourceID, req.HolderID, models.LeaseKind(req.Kind), req.TTLSecs)
	if err != nil {
		var conflict *storage.ConflictError
		if errors.As(err, &conflict) {
			c.JSON(http.StatusConflict, gin.H{
				"granted": false,
				"record":  conflict.Existing,
				"error":   "resource is held by another holder",
			})
			return
		}
		s.respondLeaseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"granted": true,
		"record":  rec,
	})
}

// renewLease handles POST /v1/leases/renew
func (s *Server) renewLease(c *gin.Context) {
	var req RenewLeaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	leaseID, err := uuid.Parse(req.LeaseID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lease ID"})
		return
	}

	rec, err := s.svc.Renew(c.Request.Context(), leaseID, req.TTLSecs)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Expired, released or superseded: the holder must stop using
			// the resource and re-acquire from scratch.
			c.JSON(http.StatusNotFound, gin.H{
				"renewed": false,
				"error":   "lease is no longer live",
			})
			return
		}
		s.respondLeaseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"renewed": true,
		"record":  rec,
	})
}

// releaseLease handles POST /v1/leases/release
func (s *Server) releaseLease(c *gin.Context) {
	var req ReleaseLeaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	leaseID, err := uuid.Parse(req.LeaseID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lease ID"})
		return
	}

	released, err := s.svc.Release(c.Request.Context(), leaseID)
	if err != nil {
		s.respondLeaseError(c, err)
		return
	}

	// Releasing a dead lease is not an error, the desired end state holds.
	c.JSON(http.StatusOK, gin.H{"released": released})
}

// getLease handles GET /v1/leases/:resource_id
func (s *Server) getLease(c *gin.Context) {
	resourceID := c.Param("resource_id")

	rec, stale, err := s.svc.Get(c.Request.Context(), resourceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":          "no live lease for resource",
				"possibly_stale": stale,
			})
			return
		}
		s.respondLeaseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"record":         rec,
		"possibly_stale": stale,
	})
}

// listLeases handles GET /v1/leases
func (s *Server) listLeases(c *gin.Context) {
	recs, stale, err := s.svc.List(c.Request.Context())
	if err != nil {
		s.respondLeaseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"leases":         recs,
		"count":          len(recs),
		"possibly_stale": stale,
	})
}

// respondLeaseError maps service errors onto HTTP statuses shared by all
// lease handlers.
func (s *Server) respondLeaseError(c *gin.Context, err error) {
	var verr *coordinator.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": verr.Error(),
			"field": verr.Field,
		})
		return
	}

	var nle *coordinator.NotLeaderError
	if errors.As(err, &nle) {
		resp := gin.H{"error": "this node is not the leader"}
		if nle.LeaderAddr != "" {
			resp["leader_addr"] = nle.LeaderAddr
		}
		c.JSON(http.StatusMisdirectedRequest, resp)
		return
	}

	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "lease store temporarily unavailable",
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": "lease store failure"})
}
