package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobStatus is the outcome of a job's most recent run.
type JobStatus string

const (
	StatusIdle    JobStatus = "idle"
	StatusRunning JobStatus = "running"
	StatusFulfill JobStatus = "fulfill"
	StatusReject  JobStatus = "reject"
)

// Job is a background task run every Interval.
type Job struct {
	Name        string
	Description string
	Interval    time.Duration
	// RunOnStart runs the job once immediately instead of waiting a full interval.
	RunOnStart bool
	Fn         func(ctx context.Context) error
}

type jobState struct {
	Job
	mu        sync.Mutex
	status    JobStatus
	message   string
	lastRunAt *time.Time
	nextRunAt time.Time
}

// ListItem is the serializable view of a job.
type ListItem struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      JobStatus  `json:"status"`
	Message     string     `json:"message,omitempty"`
	NextDate    time.Time  `json:"nextDate"`
	LastRunAt   *time.Time `json:"lastRunAt,omitempty"`
}

// Scheduler runs named interval jobs. A job never overlaps with itself;
// failures are logged and the job runs again on its next tick.
type Scheduler struct {
	mu   sync.RWMutex
	jobs map[string]*jobState
	log  *zap.Logger
	now  func() time.Time
	wg   sync.WaitGroup
}

type Option func(*Scheduler)

func WithLogger(log *zap.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log.Named("Cron")
		}
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs: make(map[string]*jobState),
		log:  zap.NewNop(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Fn == nil {
		return fmt.Errorf("cron: job needs a name and a function")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("cron: job %q: interval must be positive", job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("cron: job %q already registered", job.Name)
	}
	next := s.now().Add(job.Interval)
	if job.RunOnStart {
		next = s.now()
	}
	s.jobs[job.Name] = &jobState{Job: job, status: StatusIdle, nextRunAt: next}
	return nil
}

// Start launches every registered job; they stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, js := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, js)
	}
}

// Wait blocks until all job loops have returned after cancellation.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) loop(ctx context.Context, js *jobState) {
	defer s.wg.Done()
	for {
		js.mu.Lock()
		wait := js.nextRunAt.Sub(s.now())
		js.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			_ = s.execute(ctx, js)
			js.mu.Lock()
			js.nextRunAt = s.now().Add(js.Interval)
			js.mu.Unlock()
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, js *jobState) error {
	js.mu.Lock()
	if js.status == StatusRunning {
		js.mu.Unlock()
		return fmt.Errorf("cron: job %q is already running", js.Name)
	}
	js.status = StatusRunning
	js.mu.Unlock()

	started := s.now()
	err := js.Fn(ctx)

	js.mu.Lock()
	js.lastRunAt = &started
	if err != nil {
		js.status = StatusReject
		js.message = err.Error()
	} else {
		js.status = StatusFulfill
		js.message = ""
	}
	js.mu.Unlock()

	if err != nil {
		s.log.Warn("job failed", zap.String("job", js.Name), zap.Error(err))
	} else {
		s.log.Debug("job done", zap.String("job", js.Name), zap.Duration("took", s.now().Sub(started)))
	}
	return err
}

// RunNow runs the named job synchronously and returns its error.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	js, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("cron: job %q not found", name)
	}
	return s.execute(ctx, js)
}

// List returns a snapshot of all jobs.
func (s *Scheduler) List() []ListItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]ListItem, 0, len(s.jobs))
	for _, js := range s.jobs {
		js.mu.Lock()
		items = append(items, ListItem{
			Name:        js.Name,
			Description: js.Description,
			Status:      js.status,
			Message:     js.message,
			NextDate:    js.nextRunAt,
			LastRunAt:   js.lastRunAt,
		})
		js.mu.Unlock()
	}
	return items
}
