package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/training"
	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

type createRunRequest struct {
	RunType     string         `json:"run_type" binding:"required"`
	BaseModel   string         `json:"base_model" binding:"required"`
	OutputName  string         `json:"output_name"`
	DatasetPath string         `json:"dataset_path"`
	DatasetSize int64          `json:"dataset_size"`
	Config      datatypes.JSON `json:"config"`
	UserID      string         `json:"user_id"`
}

func (s *server) handleCreateRun(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := training.CreateRun(s.db, s.bus, training.CreateOpts{
		RunType:     req.RunType,
		BaseModel:   req.BaseModel,
		OutputName:  req.OutputName,
		DatasetPath: req.DatasetPath,
		DatasetSize: req.DatasetSize,
		Config:      req.Config,
		UserID:      req.UserID,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

func (s *server) handleGetRun(c *gin.Context) {
	run, err := training.GetRun(s.db, c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *server) handleListRuns(c *gin.Context) {
	filters := training.ListFilters{
		Status:  c.Query("status"),
		UserID:  c.Query("user"),
		RunType: c.Query("type"),
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp"})
			return
		}
		filters.From = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp"})
			return
		}
		filters.To = &t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filters.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		filters.Offset = n
	}

	runs, total, err := training.ListRuns(s.db, filters)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": total})
}

func (s *server) handleRunStats(c *gin.Context) {
	stats, err := training.GetStats(s.db)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *server) handleRunMetrics(c *gin.Context) {
	metrics, err := training.GetRunMetrics(s.db, c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": c.Param("id"), "metrics": metrics})
}

func (s *server) handleStartRun(c *gin.Context) {
	if err := training.StartRun(s.db, s.bus, c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "preparing"})
}

func (s *server) handleProgress(c *gin.Context) {
	var p training.Progress
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := training.UpdateProgress(s.db, s.bus, c.Param("id"), p); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "training"})
}

type checkpointRequest struct {
	Path  string   `json:"path" binding:"required"`
	Epoch int      `json:"epoch"`
	Step  int      `json:"step"`
	Loss  *float64 `json:"loss"`
}

func (s *server) handleCheckpoint(c *gin.Context) {
	var req checkpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ckpt, err := training.SaveCheckpoint(s.db, s.bus, c.Param("id"), req.Path, req.Epoch, req.Step, req.Loss)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, ckpt)
}

func (s *server) handleCompleteRun(c *gin.Context) {
	var result training.Result
	if err := c.ShouldBindJSON(&result); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := training.CompleteRun(s.db, s.bus, c.Param("id"), result); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

func (s *server) handleCancelRun(c *gin.Context) {
	if err := training.CancelRun(s.db, s.bus, c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

type failRunRequest struct {
	Error   string `json:"error" binding:"required"`
	Details string `json:"details"`
}

func (s *server) handleFailRun(c *gin.Context) {
	var req failRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := training.FailRun(s.db, s.bus, c.Param("id"), req.Error, req.Details); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "failed"})
}
