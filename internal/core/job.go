package core

import (
	"time"

	"github.com/orrn/receiptd/internal/receipt"
)

type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusPrinting JobStatus = "printing"
	JobStatusSuccess  JobStatus = "success"
	JobStatusError    JobStatus = "error"
)

type Job struct {
	ID          string        `json:"id"`
	PrinterName string        `json:"printerName"`
	Order       receipt.Order `json:"order"`
	Template    string        `json:"template"`
	Copies      int           `json:"copies"`
	Cut         bool          `json:"cut"`
	Status      JobStatus     `json:"status"`
	Attempts    int           `json:"attempts"`
	Error       string        `json:"error,omitempty"`
	AddedAt     time.Time     `json:"addedAt"`
	LastAttempt *time.Time    `json:"lastAttempt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	FailedAt    *time.Time    `json:"failedAt,omitempty"`
	// CopyFailures counts extra copies that could not be delivered.
	CopyFailures int `json:"copyFailures,omitempty"`
}

type JobRequest struct {
	PrinterName string
	Order       receipt.Order
	Template    string
	Copies      int
	Cut         bool
}

// The transitions below return new values. The queue swaps them into its
// collections; nothing else writes job fields.

func newJob(id string, req JobRequest, now time.Time) Job {
	return Job{
		ID:          id,
		PrinterName: req.PrinterName,
		Order:       req.Order,
		Template:    req.Template,
		Copies:      req.Copies,
		Cut:         req.Cut,
		Status:      JobStatusPending,
		AddedAt:     now,
	}
}

func (j Job) startAttempt(now time.Time) Job {
	j.Status = JobStatusPrinting
	j.Attempts++
	j.LastAttempt = &now
	return j
}

func (j Job) succeed(now time.Time) Job {
	j.Status = JobStatusSuccess
	j.Error = ""
	j.CompletedAt = &now
	return j
}

func (j Job) requeue(reason string) Job {
	j.Status = JobStatusPending
	j.Error = reason
	return j
}

func (j Job) fail(reason string, now time.Time) Job {
	j.Status = JobStatusError
	j.Error = reason
	j.FailedAt = &now
	return j
}

func (j Job) reset() Job {
	j.Status = JobStatusPending
	j.Attempts = 0
	j.Error = ""
	j.FailedAt = nil
	return j
}

// recovered normalizes a job read back from a snapshot. An attempt that was
// in flight when the process died is not counted.
func (j Job) recovered() Job {
	if j.Status == JobStatusPrinting {
		j.Status = JobStatusPending
		if j.Attempts > 0 {
			j.Attempts--
		}
	}
	if j.Copies < 1 {
		j.Copies = 1
	}
	return j
}

func (j Job) Terminal() bool {
	return j.Status == JobStatusSuccess || j.Status == JobStatusError
}
