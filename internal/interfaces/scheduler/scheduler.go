package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ScheduleTime represents a specific time of day when the scheduler should run.
type ScheduleTime struct {
	Hour   int
	Minute int
}

// String returns the time in HH:MM format.
func (st ScheduleTime) String() string {
	return fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
}

// ParseScheduleTime parses a time string in HH:MM format.
func ParseScheduleTime(s string) (ScheduleTime, error) {
	var hour, minute int
	var rest string
	n, _ := fmt.Sscanf(s, "%d:%d%s", &hour, &minute, &rest)
	if n != 2 {
		return ScheduleTime{}, fmt.Errorf("invalid time format %q (expected HH:MM)", s)
	}

	if hour < 0 || hour > 23 {
		return ScheduleTime{}, fmt.Errorf("invalid hour: %d (must be 0-23)", hour)
	}
	if minute < 0 || minute > 59 {
		return ScheduleTime{}, fmt.Errorf("invalid minute: %d (must be 0-59)", minute)
	}

	return ScheduleTime{Hour: hour, Minute: minute}, nil
}

// JobProvider lists the jobs for one scheduled run.
type JobProvider func(context.Context) ([]Job, error)

// Scheduler manages periodic execution of jobs at specific times. The worker
// pool also serves on-demand runs, so it starts even when the periodic loop
// is disabled.
type Scheduler struct {
	workerPool    *WorkerPool
	scheduleTimes []ScheduleTime
	enabled       bool
	runOnStartup  bool
	jobProvider   JobProvider

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	lastRunDate string
	mu          sync.Mutex
	now         func() time.Time
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	Enabled       bool
	ScheduleTimes []string
	WorkerCount   int
	JobDelay      time.Duration
	QueueSize     int
	JobTimeout    time.Duration
	RunOnStartup  bool
	JobProvider   JobProvider
}

// NewScheduler creates a new scheduler with the given configuration.
func NewScheduler(config SchedulerConfig) (*Scheduler, error) {
	if config.JobProvider == nil {
		return nil, errors.New("a job provider is required")
	}

	scheduleTimes := make([]ScheduleTime, 0, len(config.ScheduleTimes))
	for _, timeStr := range config.ScheduleTimes {
		st, err := ParseScheduleTime(timeStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse schedule time %q: %w", timeStr, err)
		}
		scheduleTimes = append(scheduleTimes, st)
	}

	if config.Enabled && len(scheduleTimes) == 0 {
		return nil, errors.New("at least one schedule time is required")
	}

	workerPool := NewWorkerPool(config.WorkerCount, config.JobDelay, config.QueueSize, config.JobTimeout)
	ctx, cancel := context.WithCancel(context.Background())

	log.Printf("Scheduler initialized with %d schedule times: %v", len(scheduleTimes), config.ScheduleTimes)
	log.Printf("Worker pool: %d workers, %v delay between jobs", config.WorkerCount, config.JobDelay)

	return &Scheduler{
		workerPool:    workerPool,
		scheduleTimes: scheduleTimes,
		enabled:       config.Enabled,
		runOnStartup:  config.RunOnStartup,
		jobProvider:   config.JobProvider,
		ctx:           ctx,
		cancel:        cancel,
		now:           time.Now,
	}, nil
}

// Start launches the worker pool and, when enabled, the scheduling loop.
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	s.workerPool.Start()

	if !s.enabled {
		log.Println("Scheduler: periodic sync disabled, serving on-demand runs only")
		return
	}

	if s.runOnStartup {
		log.Println("Scheduler: Running initial job batch on startup")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.RunNow(s.ctx); err != nil {
				log.Printf("Scheduler: startup run failed: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go s.scheduleLoop()

	log.Println("Scheduler started")
}

func (s *Scheduler) scheduleLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Println("Scheduler loop: Context cancelled, shutting down")
			return

		case now := <-ticker.C:
			if s.shouldRun(now) {
				log.Printf("Scheduler: Triggered at %s", now.Format("15:04"))
				if _, err := s.RunNow(s.ctx); err != nil {
					log.Printf("Scheduler: run failed: %v", err)
				}
			}
		}
	}
}

// shouldRun reports whether now matches a scheduled time that has not fired yet today.
func (s *Scheduler) shouldRun(now time.Time) bool {
	currentKey := fmt.Sprintf("%s-%02d:%02d", now.Format("2006-01-02"), now.Hour(), now.Minute())

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastRunDate == currentKey {
		return false
	}

	for _, st := range s.scheduleTimes {
		if now.Hour() == st.Hour && now.Minute() == st.Minute {
			s.lastRunDate = currentKey
			return true
		}
	}

	return false
}

// RunNow fetches the current jobs and queues them, returning how many were accepted.
func (s *Scheduler) RunNow(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	jobs, err := s.jobProvider(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch jobs: %w", err)
	}

	if len(jobs) == 0 {
		log.Println("Scheduler: No jobs to process")
		return 0, nil
	}

	log.Printf("Scheduler: Submitting %d jobs to worker pool", len(jobs))
	return s.workerPool.SubmitBatch(jobs), nil
}

// Enqueue queues a single job outside the schedule.
func (s *Scheduler) Enqueue(job Job) error {
	return s.workerPool.Submit(job)
}

// Shutdown gracefully stops the scheduler and worker pool.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	log.Println("Scheduler: Initiating graceful shutdown...")

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Scheduler: Scheduler loop stopped gracefully")
	case <-time.After(timeout):
		log.Println("Scheduler: Timeout waiting for scheduler loop to stop")
	}

	s.workerPool.Shutdown(timeout)

	log.Println("Scheduler: Shutdown complete")
}

// NextRun returns the next scheduled run time after the current time.
func (s *Scheduler) NextRun() time.Time {
	now := s.now()

	var next time.Time
	for _, st := range s.scheduleTimes {
		t := time.Date(now.Year(), now.Month(), now.Day(), st.Hour, st.Minute, 0, 0, now.Location())
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next
}
