package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/orrn/receiptd/internal/config"
	"github.com/orrn/receiptd/internal/receipt"
)

type QueueStats struct {
	Pending      int    `json:"pending"`
	Completed    int    `json:"completed"`
	Failed       int    `json:"failed"`
	Paused       bool   `json:"paused"`
	Processing   bool   `json:"processing"`
	CurrentJobID string `json:"currentJobId,omitempty"`
}

type JobList struct {
	Pending   []Job      `json:"pending"`
	Completed []Job      `json:"completed"`
	Failed    []Job      `json:"failed"`
	Stats     QueueStats `json:"stats"`
}

type QueueOption func(*Queue)

func WithClock(c Clock) QueueOption {
	return func(q *Queue) { q.clock = c }
}

func WithNotifier(n Notifier) QueueOption {
	return func(q *Queue) { q.notifier = n }
}

func WithLogger(l logrus.FieldLogger) QueueOption {
	return func(q *Queue) { q.log = l }
}

// Queue delivers jobs to the sink one at a time, in submission order. A
// failing job is retried in place, so nothing behind it prints until it has
// either succeeded or exhausted its attempts.
type Queue struct {
	sink     Sink
	renderer Renderer
	store    SnapshotStore
	notifier Notifier
	clock    Clock
	log      logrus.FieldLogger
	config   config.QueueConfig

	mu         sync.Mutex
	pending    *orderedmap.OrderedMap[string, Job]
	completed  []Job
	failed     []Job
	current    string
	processing bool
	paused     bool
	running    bool
	stopped    bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewQueue(sink Sink, renderer Renderer, store SnapshotStore, cfg *config.QueueConfig, opts ...QueueOption) *Queue {
	if cfg == nil {
		cfg = &config.Defaults().Queue
	}
	c := *cfg
	if c.MaxRetries < 1 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.MaxRetryDelay < c.RetryDelay {
		c.MaxRetryDelay = c.RetryDelay
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 30 * time.Second
	}
	if c.HistorySize < 1 {
		c.HistorySize = 50
	}
	if c.ListLimit < 1 {
		c.ListLimit = 20
	}
	if c.MaxCopies < 1 {
		c.MaxCopies = 10
	}

	q := &Queue{
		sink:     sink,
		renderer: renderer,
		store:    store,
		clock:    realClock{},
		log:      logrus.StandardLogger(),
		config:   c,
		pending:  orderedmap.NewOrderedMap[string, Job](),
		paused:   c.StartPaused,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.log = q.log.WithField("component", "queue")
	return q
}

// Start loads the persisted snapshot and resumes delivery of pending jobs. A
// snapshot that cannot be read is logged and replaced by an empty queue.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.running || q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	snap, err := q.store.Load(ctx)
	if err != nil {
		q.log.WithError(err).Error("failed to load queue snapshot, starting empty")
		snap = Snapshot{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range snap.PendingJobs {
		if job.ID == "" || q.pending.Has(job.ID) {
			continue
		}
		q.pending.Set(job.ID, job.recovered())
	}
	q.failed = boundedAppend(nil, q.config.HistorySize, snap.FailedJobs...)
	q.running = true

	q.log.WithFields(logrus.Fields{
		"pending": q.pending.Len(),
		"failed":  len(q.failed),
		"paused":  q.paused,
	}).Info("queue started")

	q.kickLocked()
	return nil
}

// Stop ends processing at the next suspension point and waits for the loop
// to exit. An attempt already handed to the sink runs to completion first.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running || q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.running = false
	close(q.stopCh)
	q.mu.Unlock()

	q.wg.Wait()
	q.log.Info("queue stopped")
}

func (q *Queue) Enqueue(req JobRequest) (Job, error) {
	req.PrinterName = strings.TrimSpace(req.PrinterName)
	if req.PrinterName == "" {
		return Job{}, fmt.Errorf("%w: printer name is required", ErrInvalidJob)
	}
	if !receipt.Template(req.Template).Valid() {
		return Job{}, fmt.Errorf("%w: unknown template %q (valid: kitchen, cashier)", ErrInvalidJob, req.Template)
	}
	if req.Copies < 1 {
		req.Copies = 1
	}
	if req.Copies > q.config.MaxCopies {
		return Job{}, fmt.Errorf("%w: copies must be at most %d, got %d", ErrInvalidJob, q.config.MaxCopies, req.Copies)
	}
	if err := req.Order.Validate(); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return Job{}, ErrQueueStopped
	}

	job := newJob(uuid.NewString(), req, q.clock.Now())
	q.pending.Set(job.ID, job)
	q.persistLocked()

	q.log.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"printer":  job.PrinterName,
		"template": job.Template,
		"copies":   job.Copies,
	}).Info("job enqueued")

	q.kickLocked()
	return job, nil
}

// RetryJob moves a failed job back to the tail of the pending list with a
// fresh attempt budget.
func (q *Queue) RetryJob(id string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := indexOf(q.failed, id)
	if idx < 0 {
		return Job{}, fmt.Errorf("%w: %s is not in the failure history", ErrJobNotFound, id)
	}
	job := q.failed[idx].reset()
	q.failed = append(q.failed[:idx:idx], q.failed[idx+1:]...)
	q.pending.Set(job.ID, job)
	q.persistLocked()

	q.log.WithField("job_id", id).Info("failed job requeued")

	q.kickLocked()
	return job, nil
}

// RemoveJob drops a pending job. If that job is being printed right now the
// attempt finishes and its outcome is discarded.
func (q *Queue) RemoveJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.pending.Delete(id) {
		return fmt.Errorf("%w: %s is not pending", ErrJobNotFound, id)
	}
	q.persistLocked()

	q.log.WithField("job_id", id).Info("job removed")
	return nil
}

// ClearQueue drops every pending job and returns how many were removed.
func (q *Queue) ClearQueue() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.pending.Len()
	q.pending = orderedmap.NewOrderedMap[string, Job]()
	q.persistLocked()

	q.log.WithField("removed", n).Info("queue cleared")
	return n
}

func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused {
		return
	}
	q.paused = true
	q.log.Info("queue paused")
}

func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.paused {
		return
	}
	q.paused = false
	q.log.Info("queue resumed")
	q.kickLocked()
}

// List returns pending jobs in delivery order and the most recent completed
// and failed jobs, newest first.
func (q *Queue) List() JobList {
	q.mu.Lock()
	defer q.mu.Unlock()

	return JobList{
		Pending:   q.pendingJobsLocked(),
		Completed: recent(q.completed, q.config.ListLimit),
		Failed:    recent(q.failed, q.config.ListLimit),
		Stats:     q.statsLocked(),
	}
}

func (q *Queue) Get(id string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job, ok := q.pending.Get(id); ok {
		return job, nil
	}
	if i := indexOf(q.completed, id); i >= 0 {
		return q.completed[i], nil
	}
	if i := indexOf(q.failed, id); i >= 0 {
		return q.failed[i], nil
	}
	return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

func (q *Queue) GetStats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

func (q *Queue) statsLocked() QueueStats {
	return QueueStats{
		Pending:      q.pending.Len(),
		Completed:    len(q.completed),
		Failed:       len(q.failed),
		Paused:       q.paused,
		Processing:   q.processing,
		CurrentJobID: q.current,
	}
}

func (q *Queue) pendingJobsLocked() []Job {
	jobs := make([]Job, 0, q.pending.Len())
	for el := q.pending.Front(); el != nil; el = el.Next() {
		jobs = append(jobs, el.Value)
	}
	return jobs
}

// kickLocked starts the processing loop unless one is already running.
func (q *Queue) kickLocked() {
	if q.processing || q.paused || !q.running || q.pending.Len() == 0 {
		return
	}
	q.processing = true
	q.wg.Add(1)
	go q.run()
}

func (q *Queue) run() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if q.paused || q.stopped || q.pending.Len() == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}
		job := q.pending.Front().Value.startAttempt(q.clock.Now())
		q.pending.Set(job.ID, job)
		q.current = job.ID
		q.mu.Unlock()

		log := q.log.WithFields(logrus.Fields{
			"job_id":  job.ID,
			"printer": job.PrinterName,
			"attempt": job.Attempts,
		})
		log.Debug("delivering job")

		data, err := q.attempt(job)
		if wait := q.settle(job, data, err, log); wait > 0 {
			select {
			case <-q.clock.After(wait):
			case <-q.stopCh:
			}
		}
	}
}

// attempt renders and delivers one job. Sink panics become errors so the
// loop survives a misbehaving transport.
func (q *Queue) attempt(job Job) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("printer sink panicked: %v", r)
		}
	}()

	data, err = q.renderer.Render(job.Template, job.Order, job.Cut)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s receipt: %w", job.Template, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.config.AttemptTimeout)
	defer cancel()

	if err := q.sink.Deliver(ctx, job.PrinterName, data); err != nil {
		return data, err
	}
	return data, nil
}

// settle applies the outcome of an attempt and returns how long the loop
// must wait before the next iteration.
func (q *Queue) settle(job Job, data []byte, deliverErr error, log logrus.FieldLogger) time.Duration {
	q.mu.Lock()
	q.current = ""

	cur, ok := q.pending.Get(job.ID)
	if !ok || cur.Status != JobStatusPrinting {
		q.mu.Unlock()
		log.WithField("delivered", deliverErr == nil).Info("job removed during delivery, discarding result")
		return 0
	}

	now := q.clock.Now()

	if deliverErr == nil {
		done := cur.succeed(now)
		q.pending.Delete(done.ID)
		q.completed = boundedAppend(q.completed, q.config.HistorySize, done)
		q.persistLocked()
		q.mu.Unlock()

		log.Info("job printed")
		if done.Copies > 1 {
			done = q.printCopies(done, data, log)
		}
		q.notify(EventJobCompleted, done)
		return 0
	}

	reason := deliverErr.Error()

	if cur.Attempts < q.config.MaxRetries {
		retry := cur.requeue(reason)
		q.pending.Set(retry.ID, retry)
		q.persistLocked()
		q.mu.Unlock()

		delay := q.calculateBackoff(retry.Attempts)
		log.WithError(deliverErr).WithField("delay", delay).Warn("delivery failed, will retry")
		q.notify(EventJobRetrying, retry)
		return delay
	}

	failed := cur.fail(reason, now)
	q.pending.Delete(failed.ID)
	q.failed = boundedAppend(q.failed, q.config.HistorySize, failed)
	q.persistLocked()
	q.mu.Unlock()

	log.WithError(deliverErr).Error("delivery failed, retries exhausted")
	q.notify(EventJobFailed, failed)
	return 0
}

// printCopies sends the extra copies of a printed job. Failures are counted
// on the completed entry and never change its status.
func (q *Queue) printCopies(job Job, data []byte, log logrus.FieldLogger) Job {
	failures := 0
	for n := 2; n <= job.Copies; n++ {
		select {
		case <-q.clock.After(q.config.CopyDelay):
		case <-q.stopCh:
			failures += job.Copies - n + 1
			log.WithField("skipped", job.Copies-n+1).Warn("queue stopping, remaining copies skipped")
			return q.recordCopyFailures(job, failures)
		}

		ctx, cancel := context.WithTimeout(context.Background(), q.config.AttemptTimeout)
		err := q.deliverCopy(ctx, job.PrinterName, data)
		cancel()
		if err != nil {
			failures++
			log.WithError(err).WithField("copy", n).Warn("copy delivery failed")
		}
	}
	return q.recordCopyFailures(job, failures)
}

func (q *Queue) deliverCopy(ctx context.Context, printer string, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("printer sink panicked: %v", r)
		}
	}()
	return q.sink.Deliver(ctx, printer, data)
}

func (q *Queue) recordCopyFailures(job Job, failures int) Job {
	if failures == 0 {
		return job
	}
	job.CopyFailures = failures

	q.mu.Lock()
	defer q.mu.Unlock()
	if i := indexOf(q.completed, job.ID); i >= 0 {
		q.completed[i] = job
	}
	return job
}

// calculateBackoff returns min(base * 2^(attempts-1), max).
func (q *Queue) calculateBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	maxBackoff := q.config.MaxRetryDelay
	backoff := q.config.RetryDelay
	for i := 1; i < attempts; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

// persistLocked rewrites the snapshot. Errors are logged; the in-memory
// state stays authoritative.
func (q *Queue) persistLocked() {
	snap := Snapshot{
		PendingJobs: q.pendingJobsLocked(),
		FailedJobs:  append([]Job(nil), q.failed...),
	}
	if err := q.store.Save(context.Background(), snap); err != nil {
		q.log.WithError(err).Error("failed to persist queue snapshot")
	}
}

func (q *Queue) notify(event Event, job Job) {
	if q.notifier == nil {
		return
	}
	q.notifier.Notify(event, job)
}

func boundedAppend(list []Job, limit int, jobs ...Job) []Job {
	list = append(list, jobs...)
	if over := len(list) - limit; over > 0 {
		list = append([]Job(nil), list[over:]...)
	}
	return list
}

// recent returns up to n entries of list, newest first.
func recent(list []Job, n int) []Job {
	if n > len(list) {
		n = len(list)
	}
	out := make([]Job, 0, n)
	for i := len(list) - 1; i >= len(list)-n; i-- {
		out = append(out, list[i])
	}
	return out
}

func indexOf(list []Job, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}
