package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/coopco/relaybot/internal/store"
)

// ErrNotFound is returned for operations against an unknown job ID.
var ErrNotFound = errors.New("cron: job not found")

// JobStore persists jobs in a single locked-store document. Every mutation
// routes through the store manager's per-path FIFO queue, so concurrent
// add/update/remove calls never interleave destructively.
type JobStore struct {
	mgr  *store.Manager
	path string
}

func NewJobStore(mgr *store.Manager, path string) *JobStore {
	return &JobStore{mgr: mgr, path: path}
}

// Path returns the store document path (the locked-store key).
func (s *JobStore) Path() string { return s.path }

// Pending reports queued mutations against this store's path.
func (s *JobStore) Pending() int { return s.mgr.PendingOps(s.path) }

// load reads and migrates the current document without entering the
// mutation queue.
func (s *JobStore) load() (StoreDoc, error) {
	raw, err := s.mgr.Read(s.path)
	if err != nil {
		return StoreDoc{}, err
	}
	if len(raw) == 0 {
		return StoreDoc{Version: StoreVersion}, nil
	}
	raw = migrateDoc(raw)
	var doc StoreDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return StoreDoc{}, fmt.Errorf("cron: parse job store: %w", err)
	}
	return doc, nil
}

// mutate runs fn against the migrated document inside the locked store.
func (s *JobStore) mutate(ctx context.Context, fn func(doc *StoreDoc) error) error {
	return s.mgr.Update(ctx, s.path, func(raw []byte) ([]byte, error) {
		doc := StoreDoc{Version: StoreVersion}
		if len(raw) > 0 {
			raw = migrateDoc(raw)
			if err := json.Unmarshal(raw, &doc); err != nil {
				return nil, fmt.Errorf("cron: parse job store: %w", err)
			}
		}
		if err := fn(&doc); err != nil {
			return nil, err
		}
		doc.Version = StoreVersion
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("cron: marshal job store: %w", err)
		}
		return out, nil
	})
}

// JobSpec is the caller-facing shape for Add. Optional booleans are pointers
// so "unset" can take the schedule-dependent default.
type JobSpec struct {
	Name           string        `json:"name"`
	Enabled        *bool         `json:"enabled,omitempty"`
	Schedule       Schedule      `json:"schedule"`
	SessionTarget  SessionTarget `json:"sessionTarget"`
	WakeMode       WakeMode      `json:"wakeMode,omitempty"`
	Payload        Payload       `json:"payload"`
	Delivery       Delivery      `json:"delivery"`
	DeleteAfterRun *bool         `json:"deleteAfterRun,omitempty"`
}

// Add validates and persists a new job, returning it with its assigned ID
// and initial nextRunAtMs.
func (s *JobStore) Add(ctx context.Context, spec JobSpec) (Job, error) {
	now := time.Now().UnixMilli()
	job := Job{
		ID:            uuid.NewString(),
		Name:          spec.Name,
		Enabled:       true,
		CreatedAtMs:   now,
		UpdatedAtMs:   now,
		Schedule:      spec.Schedule,
		SessionTarget: spec.SessionTarget,
		WakeMode:      spec.WakeMode,
		Payload:       spec.Payload,
		Delivery:      spec.Delivery,
	}
	if spec.Enabled != nil {
		job.Enabled = *spec.Enabled
	}
	if spec.DeleteAfterRun != nil {
		job.DeleteAfterRun = *spec.DeleteAfterRun
	} else {
		job.DeleteAfterRun = spec.Schedule.Kind == ScheduleAt
	}
	applyDefaults(&job)

	if err := validateJob(&job); err != nil {
		return Job{}, err
	}
	next, err := firstRunAt(job.Schedule, now)
	if err != nil {
		return Job{}, fmt.Errorf("cron: compute first run: %w", err)
	}
	job.State.NextRunAtMs = next

	err = s.mutate(ctx, func(doc *StoreDoc) error {
		doc.Jobs = append(doc.Jobs, job)
		return nil
	})
	if err != nil {
		return Job{}, err
	}
	return job, nil
}

// JobPatch is a partial update; nil fields are left untouched. Payload and
// Delivery patches merge into the existing sub-objects field by field.
type JobPatch struct {
	Name           *string        `json:"name,omitempty"`
	Enabled        *bool          `json:"enabled,omitempty"`
	Schedule       *Schedule      `json:"schedule,omitempty"`
	SessionTarget  *SessionTarget `json:"sessionTarget,omitempty"`
	WakeMode       *WakeMode      `json:"wakeMode,omitempty"`
	Payload        *PayloadPatch  `json:"payload,omitempty"`
	Delivery       *DeliveryPatch `json:"delivery,omitempty"`
	DeleteAfterRun *bool          `json:"deleteAfterRun,omitempty"`
}

type PayloadPatch struct {
	Kind    *PayloadKind `json:"kind,omitempty"`
	Text    *string      `json:"text,omitempty"`
	Message *string      `json:"message,omitempty"`
	Model   *string      `json:"model,omitempty"`
}

type DeliveryPatch struct {
	Mode       *DeliveryMode `json:"mode,omitempty"`
	Channel    *string       `json:"channel,omitempty"`
	To         *string       `json:"to,omitempty"`
	BestEffort *bool         `json:"bestEffort,omitempty"`
}

// Update merges patch into the stored job. Validation runs against the
// merged result before anything is written; a rejected patch leaves the
// store unchanged.
func (s *JobStore) Update(ctx context.Context, id string, patch JobPatch) (Job, error) {
	var updated Job
	err := s.mutate(ctx, func(doc *StoreDoc) error {
		job := findJob(doc, id)
		if job == nil {
			return ErrNotFound
		}
		now := time.Now().UnixMilli()
		rescheduled := applyPatch(job, patch)
		job.UpdatedAtMs = now
		applyDefaults(job)
		if err := validateJob(job); err != nil {
			return err
		}
		if rescheduled {
			next, err := firstRunAt(job.Schedule, now)
			if err != nil {
				return fmt.Errorf("cron: compute first run: %w", err)
			}
			job.State.NextRunAtMs = next
		}
		updated = *job
		return nil
	})
	if err != nil {
		return Job{}, err
	}
	return updated, nil
}

func applyPatch(job *Job, patch JobPatch) (rescheduled bool) {
	if patch.Name != nil {
		job.Name = *patch.Name
	}
	if patch.Enabled != nil {
		job.Enabled = *patch.Enabled
	}
	if patch.Schedule != nil {
		job.Schedule = *patch.Schedule
		rescheduled = true
	}
	if patch.SessionTarget != nil {
		job.SessionTarget = *patch.SessionTarget
	}
	if patch.WakeMode != nil {
		job.WakeMode = *patch.WakeMode
	}
	if patch.DeleteAfterRun != nil {
		job.DeleteAfterRun = *patch.DeleteAfterRun
	}
	if p := patch.Payload; p != nil {
		if p.Kind != nil {
			job.Payload.Kind = *p.Kind
		}
		if p.Text != nil {
			job.Payload.Text = *p.Text
		}
		if p.Message != nil {
			job.Payload.Message = *p.Message
		}
		if p.Model != nil {
			job.Payload.Model = *p.Model
		}
	}
	if d := patch.Delivery; d != nil {
		if d.Mode != nil {
			job.Delivery.Mode = *d.Mode
		}
		if d.Channel != nil {
			job.Delivery.Channel = *d.Channel
		}
		if d.To != nil {
			job.Delivery.To = *d.To
		}
		if d.BestEffort != nil {
			job.Delivery.BestEffort = *d.BestEffort
		}
	}
	return rescheduled
}

// Remove deletes a job by ID.
func (s *JobStore) Remove(ctx context.Context, id string) error {
	return s.mutate(ctx, func(doc *StoreDoc) error {
		for i := range doc.Jobs {
			if doc.Jobs[i].ID == id {
				doc.Jobs = append(doc.Jobs[:i], doc.Jobs[i+1:]...)
				return nil
			}
		}
		return ErrNotFound
	})
}

// Get returns the job with the given ID.
func (s *JobStore) Get(id string) (Job, error) {
	doc, err := s.load()
	if err != nil {
		return Job{}, err
	}
	if job := findJob(&doc, id); job != nil {
		return *job, nil
	}
	return Job{}, ErrNotFound
}

// List returns jobs in insertion order. Disabled jobs are filtered out
// unless includeDisabled is set.
func (s *JobStore) List(includeDisabled bool) ([]Job, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(doc.Jobs))
	for _, job := range doc.Jobs {
		if !job.Enabled && !includeDisabled {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// mutateJob applies a state transition to a single job. Used by the
// scheduler for running marks and completion writes; the fn never sees the
// rest of the document.
func (s *JobStore) mutateJob(ctx context.Context, id string, fn func(job *Job) error) error {
	return s.mutate(ctx, func(doc *StoreDoc) error {
		job := findJob(doc, id)
		if job == nil {
			return ErrNotFound
		}
		return fn(job)
	})
}

func findJob(doc *StoreDoc, id string) *Job {
	for i := range doc.Jobs {
		if doc.Jobs[i].ID == id {
			return &doc.Jobs[i]
		}
	}
	return nil
}

func applyDefaults(job *Job) {
	if job.WakeMode == "" {
		job.WakeMode = WakeNow
	}
	if job.Delivery.Mode == "" {
		job.Delivery.Mode = DeliverNone
	}
}

// validateJob enforces the session/payload invariant, schedule shape, and
// webhook target scheme. Called on add and on the merged result of update.
func validateJob(job *Job) error {
	if err := validateSchedule(job.Schedule); err != nil {
		return fmt.Errorf("cron: %w", err)
	}
	if err := checkInvariant(job); err != nil {
		return err
	}
	switch job.WakeMode {
	case WakeNow, WakeNextHeartbeat:
	default:
		return fmt.Errorf("cron: unknown wake mode %q", job.WakeMode)
	}
	switch job.Delivery.Mode {
	case DeliverNone, DeliverAnnounce:
	case DeliverWebhook:
		if job.Delivery.To != "" && job.Delivery.To != TargetLast {
			u, err := url.Parse(job.Delivery.To)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
				return fmt.Errorf("cron: webhook target must be an http(s) URL, got %q", job.Delivery.To)
			}
		}
	default:
		return fmt.Errorf("cron: unknown delivery mode %q", job.Delivery.Mode)
	}
	return nil
}

// checkInvariant is the session/payload pairing rule. It is re-checked at
// dispatch time for jobs loaded from disk, which are skipped instead of
// crashing the scheduler.
func checkInvariant(job *Job) error {
	switch job.SessionTarget {
	case TargetMain:
		if job.Payload.Kind != PayloadSystemEvent {
			return fmt.Errorf("cron: main-session jobs require a systemEvent payload, got %q", job.Payload.Kind)
		}
		if job.Payload.Text == "" {
			return fmt.Errorf("cron: systemEvent payload requires text")
		}
	case TargetIsolated:
		if job.Payload.Kind != PayloadAgentTurn {
			return fmt.Errorf("cron: isolated jobs require an agentTurn payload, got %q", job.Payload.Kind)
		}
		if job.Payload.Message == "" {
			return fmt.Errorf("cron: agentTurn payload requires a message")
		}
	default:
		return fmt.Errorf("cron: unknown session target %q", job.SessionTarget)
	}
	return nil
}
