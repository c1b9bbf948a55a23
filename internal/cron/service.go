package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coopco/relaybot/internal/bus"
	"github.com/coopco/relaybot/internal/store"
)

// Config wires a scheduler Service.
type Config struct {
	StorePath         string        // jobs document; lock file lives at StorePath+".lock"
	RunLogDir         string        // default: <dir(StorePath)>/runs
	TickInterval      time.Duration // re-arm horizon when no job is due sooner (default 30s)
	MaxConcurrentRuns int           // job bodies running at once (default 4)

	WebhookURL   string // endpoint for webhook delivery when the job has none
	WebhookToken string

	Sender ChannelSender // announce delivery target (optional)
	Routes RouteResolver // "last" target resolution (optional)
}

// Service owns the scheduler loop: a timer armed to the next due job selects
// due work, claims it through the locked store, and runs job bodies in the
// background so reads never wait on an executing job.
type Service struct {
	store   *JobStore
	runlog  *RunLog
	events  *Observers
	exec    *Executor
	deliver *Deliverer

	tickInterval time.Duration

	runs   *errgroup.Group // in-flight job bodies
	kickCh chan struct{}
	stopCh chan struct{}

	mu      sync.Mutex
	started bool
	loopWG  sync.WaitGroup
}

func NewService(cfg Config, mgr *store.Manager, msgBus *bus.MessageBus, hb HeartbeatRunner, runner IsolatedRunner) *Service {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 4
	}
	if cfg.RunLogDir == "" {
		cfg.RunLogDir = filepath.Join(filepath.Dir(cfg.StorePath), "runs")
	}

	runs := &errgroup.Group{}
	runs.SetLimit(cfg.MaxConcurrentRuns)

	return &Service{
		store:  NewJobStore(mgr, cfg.StorePath),
		runlog: NewRunLog(cfg.RunLogDir),
		events: NewObservers(),
		exec:   NewExecutor(msgBus, hb, runner),
		deliver: &Deliverer{
			Sender:       cfg.Sender,
			Routes:       cfg.Routes,
			WebhookURL:   cfg.WebhookURL,
			WebhookToken: cfg.WebhookToken,
		},
		tickInterval: cfg.TickInterval,
		runs:         runs,
		kickCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}
}

// Store exposes the underlying job store for direct reads.
func (s *Service) Store() *JobStore { return s.store }

// Events exposes the observer registry for the RPC layer.
func (s *Service) Events() *Observers { return s.events }

// Start clears stale running marks left by a previous process and begins the
// scheduler loop. Jobs already past due fire once on the first tick.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	err := s.store.mutate(ctx, func(doc *StoreDoc) error {
		for i := range doc.Jobs {
			if doc.Jobs[i].State.RunningAtMs != 0 {
				slog.Warn("cron: clearing stale running mark", "jobID", doc.Jobs[i].ID)
				doc.Jobs[i].State.RunningAtMs = 0
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cron: recover running marks: %w", err)
	}

	s.loopWG.Add(1)
	go s.loop(ctx)
	slog.Info("cron: scheduler started", "store", s.store.Path())
	return nil
}

// Stop halts the loop and waits for in-flight job bodies to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.loopWG.Wait()
	_ = s.runs.Wait()
	slog.Info("cron: scheduler stopped")
}

// kick wakes the loop to recompute its timer after a mutation.
func (s *Service) kick() {
	select {
	case s.kickCh <- struct{}{}:
	default:
	}
}

func (s *Service) loop(ctx context.Context) {
	defer s.loopWG.Done()
	for {
		timer := time.NewTimer(s.nextWake())
		select {
		case <-timer.C:
			s.tickOnce(ctx)
		case <-s.kickCh:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// nextWake returns how long to sleep until the earliest due job, clamped to
// the tick interval so newly externally-written jobs are still noticed.
func (s *Service) nextWake() time.Duration {
	doc, err := s.store.load()
	if err != nil {
		slog.Warn("cron: failed to load store for timer arm", "error", err)
		return s.tickInterval
	}
	now := time.Now().UnixMilli()
	wait := s.tickInterval
	for _, job := range doc.Jobs {
		if !job.Enabled || job.State.NextRunAtMs == 0 || job.State.RunningAtMs != 0 {
			continue
		}
		d := time.Duration(job.State.NextRunAtMs-now) * time.Millisecond
		if d < 0 {
			d = 0
		}
		if d < wait {
			wait = d
		}
	}
	return wait
}

// tickOnce selects all due jobs and dispatches them. Job bodies run in the
// background; the loop re-arms immediately.
func (s *Service) tickOnce(ctx context.Context) {
	doc, err := s.store.load()
	if err != nil {
		slog.Error("cron: tick failed to load store", "error", err)
		return
	}
	now := time.Now().UnixMilli()
	for _, job := range doc.Jobs {
		if !job.Enabled || job.State.RunningAtMs != 0 {
			continue
		}
		if job.State.NextRunAtMs == 0 || job.State.NextRunAtMs > now {
			continue
		}
		id := job.ID
		s.runs.Go(func() error {
			s.runJob(ctx, id, false)
			return nil
		})
	}
}

var errNotDue = errors.New("cron: job no longer due")

// runJob claims, executes, delivers, and completes one job. force bypasses
// the enabled/due checks (the run(id, force) operation).
func (s *Service) runJob(ctx context.Context, id string, force bool) {
	startMs := time.Now().UnixMilli()
	var claimed Job

	// The claim is a single locked-store write; after it, execution happens
	// entirely outside the lock.
	err := s.store.mutateJob(ctx, id, func(job *Job) error {
		if job.State.RunningAtMs != 0 {
			return errNotDue
		}
		if !force {
			if !job.Enabled || job.State.NextRunAtMs == 0 || job.State.NextRunAtMs > startMs {
				return errNotDue
			}
		}
		job.State.RunningAtMs = startMs
		claimed = *job
		return nil
	})
	if errors.Is(err, errNotDue) {
		return
	}
	if err != nil {
		slog.Error("cron: failed to claim job", "jobID", id, "error", err)
		return
	}

	// Jobs that reached disk with a broken session/payload pairing are
	// skipped, not run and not allowed to crash the tick.
	if invErr := checkInvariant(&claimed); invErr != nil {
		s.completeSkipped(ctx, claimed, startMs, invErr.Error())
		return
	}

	s.record(RunRecord{TsMs: startMs, JobID: id, Action: ActionStarted})

	res := s.exec.Execute(ctx, claimed)

	if res.Status != StatusSkipped {
		sent, dErr := s.deliver.Deliver(ctx, claimed, res)
		if dErr != nil {
			res.Status = StatusError
			if res.Error == "" {
				res.Error = dErr.Error()
			} else {
				res.Error += "; " + dErr.Error()
			}
		}
		res.Delivered = res.Delivered || sent
	}

	s.complete(ctx, claimed, startMs, res)
}

// complete writes the run outcome and either schedules the next occurrence
// or retires the job, in one locked-store pass.
func (s *Service) complete(ctx context.Context, job Job, startMs int64, res RunResult) {
	endMs := time.Now().UnixMilli()
	removed := false

	err := s.store.mutate(ctx, func(doc *StoreDoc) error {
		stored := findJob(doc, job.ID)
		if stored == nil {
			return nil // removed while running; nothing left to update
		}
		stored.State.RunningAtMs = 0
		stored.State.LastRunAtMs = startMs
		stored.State.LastStatus = res.Status
		stored.State.LastDurationMs = endMs - startMs
		stored.State.LastError = res.Error
		stored.State.LastSummary = res.Summary

		if next, ok := nextRunAfter(stored.Schedule, endMs); ok {
			stored.State.NextRunAtMs = next
			return nil
		}
		// One-shot: delete or disable.
		stored.State.NextRunAtMs = 0
		if stored.DeleteAfterRun {
			removed = true
			for i := range doc.Jobs {
				if doc.Jobs[i].ID == job.ID {
					doc.Jobs = append(doc.Jobs[:i], doc.Jobs[i+1:]...)
					break
				}
			}
			return nil
		}
		stored.Enabled = false
		return nil
	})
	if err != nil {
		slog.Error("cron: failed to record completion", "jobID", job.ID, "error", err)
	}

	s.record(RunRecord{
		TsMs: endMs, JobID: job.ID, Action: ActionFinished,
		Status: res.Status, Summary: res.Summary, Error: res.Error,
	})
	if removed {
		s.record(RunRecord{TsMs: endMs, JobID: job.ID, Action: ActionRemoved})
	}
	s.kick()
}

// completeSkipped retires one run without executing it.
func (s *Service) completeSkipped(ctx context.Context, job Job, startMs int64, reason string) {
	slog.Warn("cron: skipping invalid job", "jobID", job.ID, "reason", reason)
	err := s.store.mutateJob(ctx, job.ID, func(stored *Job) error {
		stored.State.RunningAtMs = 0
		stored.State.LastRunAtMs = startMs
		stored.State.LastStatus = StatusSkipped
		stored.State.LastError = reason
		if next, ok := nextRunAfter(stored.Schedule, time.Now().UnixMilli()); ok {
			stored.State.NextRunAtMs = next
		} else {
			// Invalid one-shots are kept (disabled) for inspection.
			stored.State.NextRunAtMs = 0
			stored.Enabled = false
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		slog.Error("cron: failed to record skip", "jobID", job.ID, "error", err)
	}
	s.record(RunRecord{TsMs: startMs, JobID: job.ID, Action: ActionSkipped, Status: StatusSkipped, Error: reason})
	s.kick()
}

// record appends to the run log and notifies observers.
func (s *Service) record(rec RunRecord) {
	if err := s.runlog.Append(rec); err != nil {
		slog.Warn("cron: failed to append run record", "jobID", rec.JobID, "error", err)
	}
	s.events.emit(Event{
		JobID: rec.JobID, Action: rec.Action,
		Status: rec.Status, Summary: rec.Summary, Error: rec.Error,
	})
}

// Add validates and persists a new job, then re-arms the loop.
func (s *Service) Add(ctx context.Context, spec JobSpec) (Job, error) {
	job, err := s.store.Add(ctx, spec)
	if err != nil {
		return Job{}, err
	}
	s.kick()
	return job, nil
}

// Update patches a job and re-arms the loop.
func (s *Service) Update(ctx context.Context, id string, patch JobPatch) (Job, error) {
	job, err := s.store.Update(ctx, id, patch)
	if err != nil {
		return Job{}, err
	}
	s.kick()
	return job, nil
}

// Remove deletes a job and records the removal.
func (s *Service) Remove(ctx context.Context, id string) error {
	if err := s.store.Remove(ctx, id); err != nil {
		return err
	}
	s.record(RunRecord{TsMs: time.Now().UnixMilli(), JobID: id, Action: ActionRemoved})
	s.kick()
	return nil
}

// Get returns one job.
func (s *Service) Get(id string) (Job, error) { return s.store.Get(id) }

// List returns jobs, optionally including disabled ones.
func (s *Service) List(includeDisabled bool) ([]Job, error) {
	return s.store.List(includeDisabled)
}

// Runs returns the most recent limit run records for a job.
func (s *Service) Runs(jobID string, limit int) ([]RunRecord, error) {
	return s.runlog.Runs(jobID, limit)
}

// Run executes a job immediately. force ignores enabled and nextRunAtMs; a
// job already running is left alone either way. The call returns after the
// run completes.
func (s *Service) Run(ctx context.Context, id string, force bool) error {
	if _, err := s.store.Get(id); err != nil {
		return err
	}
	s.runJob(ctx, id, force)
	return nil
}

// Status is the scheduler snapshot exposed to the gateway.
type Status struct {
	Running     bool     `json:"running"`
	Jobs        int      `json:"jobs"`
	Enabled     int      `json:"enabled"`
	RunningJobs []string `json:"runningJobs,omitempty"`
	NextRunAtMs int64    `json:"nextRunAtMs,omitempty"`
	PendingOps  int      `json:"pendingOps"`
}

// Status reports scheduler state. It only reads the store document, so it
// stays fast while jobs execute.
func (s *Service) Status() (Status, error) {
	doc, err := s.store.load()
	if err != nil {
		return Status{}, err
	}
	s.mu.Lock()
	st := Status{Running: s.started}
	s.mu.Unlock()

	st.Jobs = len(doc.Jobs)
	st.PendingOps = s.store.Pending()
	for _, job := range doc.Jobs {
		if job.Enabled {
			st.Enabled++
		}
		if job.State.RunningAtMs != 0 {
			st.RunningJobs = append(st.RunningJobs, job.ID)
		}
		if job.Enabled && job.State.NextRunAtMs != 0 &&
			(st.NextRunAtMs == 0 || job.State.NextRunAtMs < st.NextRunAtMs) {
			st.NextRunAtMs = job.State.NextRunAtMs
		}
	}
	return st, nil
}
