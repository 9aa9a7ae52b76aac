package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/orrn/receiptd/internal/api/handlers"
	"github.com/orrn/receiptd/internal/api/middleware"
)

type Dependencies struct {
	Queue    handlers.JobQueue
	Printers handlers.PrinterDirectory
	// Auth is nil when authentication is disabled.
	Auth   *middleware.AuthMiddleware
	Logger logrus.FieldLogger
	Now    func() time.Time
}

func NewRouter(deps Dependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(log.WithField("component", "http")))

	jobs := handlers.NewJobHandler(deps.Queue)
	printers := handlers.NewPrinterHandler(deps.Printers, deps.Queue, deps.Now)

	api := r.Group("/api")
	api.GET("/health", jobs.Health)

	protected := api.Group("")
	if deps.Auth != nil {
		api.POST("/auth/token", deps.Auth.TokenHandler)
		protected.Use(deps.Auth.RequireAuth())
	}

	protected.POST("/print", jobs.Print)
	protected.GET("/jobs", jobs.ListJobs)
	protected.DELETE("/jobs", jobs.ClearQueue)
	protected.GET("/jobs/:id", jobs.GetJob)
	protected.DELETE("/jobs/:id", jobs.DeleteJob)
	protected.POST("/jobs/:id/retry", jobs.RetryJob)
	protected.POST("/queue/pause", jobs.PauseQueue)
	protected.POST("/queue/resume", jobs.ResumeQueue)
	protected.GET("/printers", printers.ListPrinters)
	protected.POST("/printers/:name/test", printers.TestPrinter)

	return r
}
