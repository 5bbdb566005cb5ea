package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Job is one scheduled unit of work. Next computes the following fire
// time after now; Run does the work.
type Job struct {
	Name string
	Next func(now time.Time) time.Time
	Run  func(ctx context.Context) error
}

// Every returns a Next function for a fixed interval.
func Every(interval time.Duration) func(time.Time) time.Time {
	return func(now time.Time) time.Time { return now.Add(interval) }
}

// DailyAt returns a Next function firing once a day at "HH:MM" local
// time.
func DailyAt(hhmm string) (func(time.Time) time.Time, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &hour, &minute); err != nil {
		return nil, fmt.Errorf("failed to parse daily time %q: %w", hhmm, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("daily time %q out of range", hhmm)
	}
	return func(now time.Time) time.Time {
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}, nil
}

// JobStatus is the externally visible state of one job.
type JobStatus struct {
	Name     string    `json:"name"`
	NextRun  time.Time `json:"next_run"`
	LastRun  time.Time `json:"last_run"`
	LastErr  string    `json:"last_error,omitempty"`
	RunCount int64     `json:"run_count"`
}

type jobState struct {
	job      Job
	nextRun  time.Time
	lastRun  time.Time
	lastErr  string
	runCount int64
}

// Scheduler runs one timer per job cooperatively. Stop cancels pending
// timers and awaits in-flight work within a bounded grace period.
type Scheduler struct {
	mu      sync.Mutex
	jobs    []*jobState
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	grace   time.Duration
}

// New creates a scheduler with the given shutdown grace period.
func New(grace time.Duration) *Scheduler {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &Scheduler{grace: grace}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &jobState{job: job})
}

// Start launches one timer loop per job. Idempotent while running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, st := range s.jobs {
		st.nextRun = st.job.Next(time.Now())
		s.wg.Add(1)
		go s.runLoop(ctx, st)
	}
	log.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
}

func (s *Scheduler) runLoop(ctx context.Context, st *jobState) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		next := st.nextRun
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		start := time.Now()
		err := st.job.Run(ctx)

		s.mu.Lock()
		st.lastRun = start
		st.runCount++
		st.lastErr = ""
		if err != nil {
			st.lastErr = err.Error()
		}
		st.nextRun = st.job.Next(time.Now())
		s.mu.Unlock()

		if err != nil {
			log.Error().Err(err).Str("job", st.job.Name).Msg("scheduled job failed")
		} else {
			log.Debug().Str("job", st.job.Name).Dur("duration", time.Since(start)).
				Msg("scheduled job completed")
		}
	}
}

// Stop cancels all timers and waits for in-flight jobs up to the grace
// period. Safe to call twice.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("scheduler stopped")
		return nil
	case <-time.After(s.grace):
		return fmt.Errorf("scheduler shutdown exceeded %s grace period", s.grace)
	}
}

// Status reports all jobs' schedule state.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, st := range s.jobs {
		out = append(out, JobStatus{
			Name:     st.job.Name,
			NextRun:  st.nextRun,
			LastRun:  st.lastRun,
			LastErr:  st.lastErr,
			RunCount: st.runCount,
		})
	}
	return out
}
