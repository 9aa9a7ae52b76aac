package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/orrn/receiptd/internal/config"
	"github.com/orrn/receiptd/internal/core"
)

type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

type JobEventData struct {
	JobID        string `json:"jobId"`
	PrinterName  string `json:"printerName"`
	Template     string `json:"template"`
	OrderCode    string `json:"orderCode,omitempty"`
	Status       string `json:"status"`
	Attempts     int    `json:"attempts"`
	Copies       int    `json:"copies"`
	CopyFailures int    `json:"copyFailures,omitempty"`
	ErrorMessage string `json:"error,omitempty"`
}

type endpoint struct {
	url    string
	secret string
	events map[core.Event]bool
}

// wants reports whether the endpoint subscribed to event. An empty event
// list subscribes to everything.
func (e endpoint) wants(event core.Event) bool {
	return len(e.events) == 0 || e.events[event]
}

type webhookTask struct {
	endpoint endpoint
	event    core.Event
	payload  *WebhookPayload
	attempt  int
}

// statusError is a non-2xx answer from the receiving end.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http error: %d", e.code)
}

// WebhookSender posts job events to the configured endpoints from a small
// worker pool. Notify never blocks the caller: when the queue is full the
// event is dropped.
type WebhookSender struct {
	endpoints   []endpoint
	httpClient  *http.Client
	retryCount  int
	retryDelay  time.Duration
	workerCount int
	queue       chan *webhookTask
	stopCh      chan struct{}
	wg          sync.WaitGroup
	stopOnce    sync.Once
	log         logrus.FieldLogger
	now         func() time.Time
}

var _ core.Notifier = (*WebhookSender)(nil)

func NewWebhookSender(hooks []config.WebhookConfig, cfg config.WebhookDeliveryConfig, log logrus.FieldLogger) *WebhookSender {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	endpoints := make([]endpoint, 0, len(hooks))
	for _, h := range hooks {
		ep := endpoint{url: h.URL, secret: h.Secret, events: make(map[core.Event]bool, len(h.Events))}
		for _, ev := range h.Events {
			ep.events[core.Event(ev)] = true
		}
		endpoints = append(endpoints, ep)
	}

	return &WebhookSender{
		endpoints: endpoints,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retryCount:  cfg.RetryCount,
		retryDelay:  cfg.RetryDelay,
		workerCount: cfg.WorkerCount,
		queue:       make(chan *webhookTask, cfg.QueueSize),
		stopCh:      make(chan struct{}),
		log:         log.WithField("component", "webhook"),
		now:         time.Now,
	}
}

func (s *WebhookSender) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop ends the workers. Deliveries still queued are dropped.
func (s *WebhookSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *WebhookSender) Notify(event core.Event, job core.Job) {
	data := &JobEventData{
		JobID:        job.ID,
		PrinterName:  job.PrinterName,
		Template:     job.Template,
		OrderCode:    job.Order.Code,
		Status:       string(job.Status),
		Attempts:     job.Attempts,
		Copies:       job.Copies,
		CopyFailures: job.CopyFailures,
		ErrorMessage: job.Error,
	}
	s.enqueue(event, data)
}

func (s *WebhookSender) enqueue(event core.Event, data interface{}) {
	for _, ep := range s.endpoints {
		if !ep.wants(event) {
			continue
		}
		task := &webhookTask{
			endpoint: ep,
			event:    event,
			payload: &WebhookPayload{
				Event:     string(event),
				Timestamp: s.now(),
				Data:      data,
			},
		}

		select {
		case s.queue <- task:
		default:
			s.log.WithFields(logrus.Fields{"url": ep.url, "event": event}).Warn("queue full, dropping webhook")
		}
	}
}

func (s *WebhookSender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case task := <-s.queue:
			if err := s.sendWithRetry(task); err != nil {
				s.log.WithError(err).WithFields(logrus.Fields{
					"worker":   id,
					"url":      task.endpoint.url,
					"event":    task.event,
					"attempts": task.attempt,
				}).Error("webhook delivery failed")
			}
		}
	}
}

func (s *WebhookSender) sendWithRetry(task *webhookTask) error {
	var lastErr error
	for task.attempt < s.retryCount {
		task.attempt++

		err := s.sendRequest(task.endpoint, task.payload)
		if err == nil {
			return nil
		}

		lastErr = err

		if isClientError(err) {
			return err
		}

		if task.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(task.attempt-1))
			s.log.WithError(err).WithFields(logrus.Fields{
				"url":     task.endpoint.url,
				"attempt": task.attempt,
				"delay":   backoff,
			}).Warn("webhook delivery failed, will retry")

			select {
			case <-s.stopCh:
				return fmt.Errorf("shutdown requested: %w", lastErr)
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *WebhookSender) sendRequest(ep endpoint, payload *WebhookPayload) error {
	dataBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	signed := *payload
	if ep.secret != "" {
		signed.Signature = Sign(dataBytes, ep.secret)
	}

	body, err := json.Marshal(&signed)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, ep.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", signed.Event)
	if signed.Signature != "" {
		req.Header.Set("X-Webhook-Signature", signed.Signature)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &statusError{code: resp.StatusCode}
	}

	return nil
}

// Sign returns the hex HMAC-SHA256 of payload. Receivers recompute it over
// the raw JSON of the data field.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func isClientError(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code >= 400 && se.code < 500
}
