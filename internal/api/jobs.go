package api

import (
	"net/http"
	"time"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/scheduler"
	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/vram"
	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

type enqueueRequest struct {
	JobType         string         `json:"job_type" binding:"required"`
	Model           string         `json:"model"`
	Payload         datatypes.JSON `json:"payload"`
	EstimatedVramMb int            `json:"estimated_vram_mb" binding:"required"`
	Priority        *int           `json:"priority"`
	CallerID        string         `json:"caller_id"`
	CallerType      string         `json:"caller_type"`
}

func (s *server) handleEnqueueJob(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	priority := req.Priority
	if priority == nil && s.cfg.Scheduler.DefaultPriority > 0 {
		priority = &s.cfg.Scheduler.DefaultPriority
	}

	job, err := scheduler.Enqueue(s.db, scheduler.EnqueueOpts{
		JobType:         req.JobType,
		Model:           req.Model,
		Payload:         req.Payload,
		EstimatedVramMb: req.EstimatedVramMb,
		Priority:        priority,
		CallerID:        req.CallerID,
		CallerType:      req.CallerType,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (s *server) handleGetJob(c *gin.Context) {
	job, err := scheduler.Get(s.db, c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

type finishRequest struct {
	Result    datatypes.JSON `json:"result"`
	Error     string         `json:"error"`
	LockToken string         `json:"lock_token"`
}

func (s *server) handleReleaseJob(c *gin.Context) {
	var req finishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := scheduler.Release(s.db, c.Param("id"), req.Result, req.LockToken); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

func (s *server) handleFailJob(c *gin.Context) {
	var req finishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := scheduler.Fail(s.db, c.Param("id"), req.Error, req.LockToken); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "failed"})
}

func (s *server) handleCancelJob(c *gin.Context) {
	if err := scheduler.Cancel(s.db, c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// handleClaim is the worker pull endpoint. An empty queue answers 204 so
// workers can poll without parsing bodies.
func (s *server) handleClaim(c *gin.Context) {
	claim, err := scheduler.Claim(s.db, c.Param("node"), scheduler.ClaimOpts{
		Lookahead: s.cfg.Scheduler.ClaimLookahead,
		LockTTL:   time.Duration(s.cfg.Vram.LockTTLMinutes) * time.Minute,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	if claim == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, claim)
}

type snapshotRequest struct {
	NodeID         string `json:"node_id" binding:"required"`
	TotalVramMb    int    `json:"total_vram_mb" binding:"required"`
	UsedVramMb     int    `json:"used_vram_mb"`
	ReservedVramMb int    `json:"reserved_vram_mb"`
}

func (s *server) handleRecordSnapshot(c *gin.Context) {
	var req snapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snap, err := vram.RecordSnapshot(s.db, vram.SnapshotOpts{
		NodeID:         req.NodeID,
		TotalVramMb:    req.TotalVramMb,
		UsedVramMb:     req.UsedVramMb,
		ReservedVramMb: req.ReservedVramMb,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (s *server) handleQueueStatus(c *gin.Context) {
	status, err := scheduler.Status(s.db, s.cfg.Scheduler.WaitWindow)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
