package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/receiptd/internal/core"
	"github.com/orrn/receiptd/internal/receipt"
)

// JobQueue is the part of core.Queue the HTTP layer drives.
type JobQueue interface {
	Enqueue(req core.JobRequest) (core.Job, error)
	List() core.JobList
	Get(id string) (core.Job, error)
	RetryJob(id string) (core.Job, error)
	RemoveJob(id string) error
	ClearQueue() int
	Pause()
	Resume()
	GetStats() core.QueueStats
}

type PrintRequest struct {
	PrinterName string        `json:"printerName" binding:"required"`
	Order       receipt.Order `json:"order"`
	Template    string        `json:"template" binding:"required"`
	Copies      int           `json:"copies" binding:"min=0"`
	// Cut defaults to true when omitted.
	Cut *bool `json:"cut"`
}

type JobHandler struct {
	queue JobQueue
}

func NewJobHandler(queue JobQueue) *JobHandler {
	return &JobHandler{queue: queue}
}

func (h *JobHandler) Print(c *gin.Context) {
	var req PrintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	cut := true
	if req.Cut != nil {
		cut = *req.Cut
	}

	job, err := h.queue.Enqueue(core.JobRequest{
		PrinterName: req.PrinterName,
		Order:       req.Order,
		Template:    req.Template,
		Copies:      req.Copies,
		Cut:         cut,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":      job.ID,
		"message": "job submitted successfully",
	})
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.List())
}

func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.queue.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) RetryJob(c *gin.Context) {
	job, err := h.queue.RetryJob(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "job queued for retry",
		"job":     job,
	})
}

func (h *JobHandler) DeleteJob(c *gin.Context) {
	if err := h.queue.RemoveJob(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "job deleted"})
}

func (h *JobHandler) ClearQueue(c *gin.Context) {
	removed := h.queue.ClearQueue()
	c.JSON(http.StatusOK, gin.H{
		"message": "queue cleared",
		"removed": removed,
	})
}

func (h *JobHandler) PauseQueue(c *gin.Context) {
	h.queue.Pause()
	c.JSON(http.StatusOK, h.queue.GetStats())
}

func (h *JobHandler) ResumeQueue(c *gin.Context) {
	h.queue.Resume()
	c.JSON(http.StatusOK, h.queue.GetStats())
}

func (h *JobHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"queue":  h.queue.GetStats(),
	})
}
