package core

import (
	"context"
	"errors"
	"time"

	"github.com/orrn/receiptd/internal/receipt"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrInvalidJob       = errors.New("invalid job")
	ErrPrinterNotFound  = errors.New("printer not found")
	ErrPrinterOffline   = errors.New("printer is offline")
	ErrConnectionFailed = errors.New("connection failed")
	ErrQueueStopped     = errors.New("queue is not running")
)

// Sink transmits encoded bytes to a named printer.
type Sink interface {
	// ListPrinters never fails; enumeration problems yield an empty list.
	ListPrinters(ctx context.Context) []PrinterInfo
	// Deliver sends data as a whole or reports an error.
	Deliver(ctx context.Context, printerName string, data []byte) error
}

type Renderer interface {
	Render(template string, order receipt.Order, cut bool) ([]byte, error)
}

type Event string

const (
	EventJobCompleted Event = "job_completed"
	EventJobFailed    Event = "job_failed"
	EventJobRetrying  Event = "job_retrying"
)

// Notifier receives job events. Implementations must not block.
type Notifier interface {
	Notify(event Event, job Job)
}

// Snapshot is the durable part of the queue state.
type Snapshot struct {
	PendingJobs []Job `json:"pendingJobs"`
	FailedJobs  []Job `json:"failedJobs"`
}

type SnapshotStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type PrinterInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	// LastSeenAt is the last successful probe or delivery.
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

const (
	PrinterStatusUnknown   = "unknown"
	PrinterStatusOnline    = "online"
	PrinterStatusOffline   = "offline"
	PrinterStatusAvailable = "available"
)
