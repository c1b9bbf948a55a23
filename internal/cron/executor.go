package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coopco/relaybot/internal/bus"
)

// Heartbeat run outcomes reported by the heartbeat collaborator.
const (
	HeartbeatRan     = "ran"
	HeartbeatSkipped = "skipped"
	heartbeatBusy    = "busy"
)

// HeartbeatResult is what one heartbeat invocation reports back.
type HeartbeatResult struct {
	Status     string `json:"status"` // "ran" | "skipped"
	DurationMs int64  `json:"durationMs,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// HeartbeatRunner is the external main-session processing loop that
// main-session jobs piggyback on.
type HeartbeatRunner interface {
	// RunOnce runs a heartbeat pass now, or reports the lane busy
	// (Status=skipped, Reason="busy") when one is already in flight.
	RunOnce(ctx context.Context, reason string) (HeartbeatResult, error)
	// RequestNow asks for a heartbeat pass soon without waiting for it.
	RequestNow()
}

// IsolatedRunner executes an agentTurn payload in an ephemeral session.
type IsolatedRunner interface {
	RunJob(ctx context.Context, job Job) (RunResult, error)
}

// Executor dispatches a due job to one of two lanes: main-session jobs post
// a system event and coordinate with the heartbeat; isolated jobs run through
// the agent runtime collaborator.
type Executor struct {
	bus       *bus.MessageBus
	heartbeat HeartbeatRunner
	isolated  IsolatedRunner

	wakeBackoff time.Duration // initial retry delay while the heartbeat lane is busy
	wakeMaxWait time.Duration // total budget before falling back to an async request
}

func NewExecutor(msgBus *bus.MessageBus, hb HeartbeatRunner, runner IsolatedRunner) *Executor {
	return &Executor{
		bus:         msgBus,
		heartbeat:   hb,
		isolated:    runner,
		wakeBackoff: 500 * time.Millisecond,
		wakeMaxWait: 10 * time.Second,
	}
}

// Execute runs one job to completion and never panics: a panicking
// collaborator is mapped to status=error so the scheduler loop keeps ticking.
func (e *Executor) Execute(ctx context.Context, job Job) (res RunResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("cron: job execution panicked", "jobID", job.ID, "panic", r)
			res = RunResult{Status: StatusError, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	switch job.SessionTarget {
	case TargetMain:
		return e.runMain(ctx, job)
	case TargetIsolated:
		return e.runIsolated(ctx, job)
	}
	return RunResult{Status: StatusSkipped, Error: fmt.Sprintf("unknown session target %q", job.SessionTarget)}
}

// runMain posts the job's system event into the main session and wakes the
// heartbeat per the job's wake mode.
func (e *Executor) runMain(ctx context.Context, job Job) RunResult {
	e.bus.PublishInbound(bus.InboundMessage{
		Channel: "system",
		Content: job.Payload.Text,
		Metadata: map[string]string{
			"source": "cron",
			"job_id": job.ID,
		},
	})

	if job.WakeMode == WakeNextHeartbeat {
		e.heartbeat.RequestNow()
		return RunResult{Status: StatusOK}
	}
	return e.wakeNow(ctx, job)
}

// wakeNow runs the heartbeat synchronously, retrying with bounded backoff
// while the lane is busy. When the budget runs out it degrades to an async
// request instead of blocking indefinitely.
func (e *Executor) wakeNow(ctx context.Context, job Job) RunResult {
	deadline := time.Now().Add(e.wakeMaxWait)
	delay := e.wakeBackoff
	for {
		result, err := e.heartbeat.RunOnce(ctx, "cron:"+job.ID)
		if err != nil {
			return RunResult{Status: StatusError, Error: fmt.Sprintf("heartbeat: %v", err)}
		}
		if result.Status == HeartbeatRan || result.Reason != heartbeatBusy {
			return RunResult{Status: StatusOK}
		}
		if time.Now().After(deadline) {
			slog.Info("cron: heartbeat busy past wake budget, requesting async run", "jobID", job.ID)
			e.heartbeat.RequestNow()
			return RunResult{Status: StatusOK}
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return RunResult{Status: StatusError, Error: ctx.Err().Error()}
		}
		if delay *= 2; delay > 2*time.Second {
			delay = 2 * time.Second
		}
	}
}

func (e *Executor) runIsolated(ctx context.Context, job Job) RunResult {
	if e.isolated == nil {
		return RunResult{Status: StatusSkipped, Error: "no isolated runner configured"}
	}
	res, err := e.isolated.RunJob(ctx, job)
	if err != nil {
		return RunResult{Status: StatusError, Error: err.Error()}
	}
	if res.Status == "" {
		res.Status = StatusOK
	}
	return res
}
