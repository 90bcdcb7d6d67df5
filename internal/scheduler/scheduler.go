// Package scheduler provides a single cooperative cron scheduler whose
// entries are addressed by a stable job key instead of the numeric
// cron.EntryID that robfig/cron hands back, so callers can add/modify/remove
// jobs idempotently by the key they already know (provider|interval|cron).
package scheduler

import (
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// State is the scheduler's run state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Job is a unit of scheduled work. Args are passed back on every run so a
// job body can close over mutable arguments updated via Modify.
type Job func(args any)

type entry struct {
	id   cron.EntryID
	args any
	job  Job
}

// Scheduler wraps robfig/cron/v3 with job-key bookkeeping. All exported
// methods are safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	log     zerolog.Logger
	entries map[string]*entry
	state   State
}

// New constructs a Scheduler. The underlying cron runs in UTC with
// second-level precision disabled (standard 5-field crontab), matching the
// plain-crontab and signed-offset-crontab trigger dialects. Every entry is
// wrapped in SkipIfStillRunning, so a fire that comes due while the same
// job key is still running is skipped.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(timeUTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:     log.With().Str("component", "scheduler").Logger(),
		entries: make(map[string]*entry),
		state:   StateStopped,
	}
}

// Start begins dispatching due jobs. Safe to call once; calling it again on
// an already-running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		return
	}
	s.cron.Start()
	s.state = StateRunning
	s.log.Info().Msg("scheduler started")
}

// Stop halts the scheduler with wait=false: in-flight job bodies are allowed
// to finish naturally, but Stop itself does not block on them. Safe to call
// repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return
	}
	s.cron.Stop()
	s.state = StateStopped
	s.log.Info().Msg("scheduler stopped")
}

// State reports whether the scheduler is currently running.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Add registers job under jobKey using trigger, replacing any existing entry
// under the same key. trigger is parsed first via ParseTrigger so a bad
// crontab string is rejected before the old entry (if any) is torn down.
func (s *Scheduler) Add(jobKey string, trigger string, job Job, args any) error {
	sched, err := ParseTrigger(trigger)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[jobKey]; ok {
		s.cron.Remove(old.id)
	}

	e := &entry{args: args, job: job}
	e.id = s.cron.Schedule(sched, cron.FuncJob(func() {
		s.mu.Lock()
		current := e.args
		s.mu.Unlock()
		job(current)
	}))
	s.entries[jobKey] = e

	s.log.Info().Str("job_key", jobKey).Str("trigger", trigger).Msg("job added")
	return nil
}

// Args returns the arguments currently registered for jobKey.
func (s *Scheduler) Args(jobKey string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[jobKey]
	if !ok {
		return nil, false
	}
	return e.args, true
}

// Modify updates the arguments passed to jobKey's next run in place, without
// touching its schedule. A no-op if jobKey is not currently scheduled.
func (s *Scheduler) Modify(jobKey string, args any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[jobKey]
	if !ok {
		return
	}
	e.args = args
	s.log.Debug().Str("job_key", jobKey).Msg("job args updated")
}

// Remove unregisters jobKey. A no-op if jobKey is not currently scheduled.
func (s *Scheduler) Remove(jobKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[jobKey]
	if !ok {
		return
	}
	s.cron.Remove(e.id)
	delete(s.entries, jobKey)
	s.log.Info().Str("job_key", jobKey).Msg("job removed")
}

// Keys returns every currently scheduled job key.
func (s *Scheduler) Keys() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]struct{}, len(s.entries))
	for k := range s.entries {
		out[k] = struct{}{}
	}
	return out
}

// Has reports whether jobKey is currently scheduled.
func (s *Scheduler) Has(jobKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[jobKey]
	return ok
}

// RunNow executes job immediately with args, outside its schedule. Used for
// the reconciler's immediate-pull fire-and-forget back-fill.
func (s *Scheduler) RunNow(job Job, args any) {
	job(args)
}
