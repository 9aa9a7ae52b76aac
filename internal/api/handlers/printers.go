package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/receiptd/internal/core"
	"github.com/orrn/receiptd/internal/receipt"
)

// PrinterDirectory lists the printers known to the sink.
type PrinterDirectory interface {
	core.Sink
	HasPrinter(name string) bool
}

type PrinterHandler struct {
	printers PrinterDirectory
	queue    JobQueue
	now      func() time.Time
}

func NewPrinterHandler(printers PrinterDirectory, queue JobQueue, now func() time.Time) *PrinterHandler {
	if now == nil {
		now = time.Now
	}
	return &PrinterHandler{
		printers: printers,
		queue:    queue,
		now:      now,
	}
}

func (h *PrinterHandler) ListPrinters(c *gin.Context) {
	c.JSON(http.StatusOK, h.printers.ListPrinters(c.Request.Context()))
}

// TestPrinter queues a sample cashier receipt on the named printer.
func (h *PrinterHandler) TestPrinter(c *gin.Context) {
	name := c.Param("name")
	if !h.printers.HasPrinter(name) {
		writeError(c, fmt.Errorf("%w: %s", core.ErrPrinterNotFound, name))
		return
	}

	job, err := h.queue.Enqueue(core.JobRequest{
		PrinterName: name,
		Order:       receipt.SampleOrder(h.now()),
		Template:    string(receipt.TemplateCashier),
		Copies:      1,
		Cut:         true,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":      job.ID,
		"message": "test receipt queued",
	})
}
