package heartbeat

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coopco/relaybot/internal/cron"
	"github.com/coopco/relaybot/internal/providers"
)

// Service is the periodic main-session processing loop. Cron jobs targeting
// the main session piggyback on it: wakeMode=now runs a pass synchronously
// through RunOnce, wakeMode=next-heartbeat signals RequestNow and moves on.
// It satisfies cron.HeartbeatRunner.
type Service struct {
	provider  providers.Provider
	model     string
	workspace string
	interval  time.Duration
	onExecute func(ctx context.Context, message string)

	busy      atomic.Bool // single-flight: one pass at a time
	requestCh chan struct{}
	stopCh    chan struct{}
	mu        sync.Mutex
	running   bool
}

type Config struct {
	Provider  providers.Provider
	Model     string
	Workspace string
	Interval  time.Duration
	OnExecute func(ctx context.Context, message string)
}

func NewService(cfg Config) *Service {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Minute
	}
	return &Service{
		provider:  cfg.Provider,
		model:     cfg.Model,
		workspace: cfg.Workspace,
		interval:  interval,
		onExecute: cfg.OnExecute,
		requestCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic loop. RequestNow wakes it between ticks.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.RunOnce(ctx, "interval"); err != nil {
					slog.Error("heartbeat: pass failed", "error", err)
				}
			case <-s.requestCh:
				if _, err := s.RunOnce(ctx, "requested"); err != nil {
					slog.Error("heartbeat: requested pass failed", "error", err)
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
}

// RequestNow asks for a pass soon without waiting for it. Coalesces with any
// already-pending request.
func (s *Service) RequestNow() {
	select {
	case s.requestCh <- struct{}{}:
	default:
	}
}

// RunOnce runs a single heartbeat pass, or reports the lane busy when one is
// already in flight.
func (s *Service) RunOnce(ctx context.Context, reason string) (cron.HeartbeatResult, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return cron.HeartbeatResult{Status: cron.HeartbeatSkipped, Reason: "busy"}, nil
	}
	defer s.busy.Store(false)

	start := time.Now()
	ran, skipReason, err := s.pass(ctx)
	if err != nil {
		return cron.HeartbeatResult{}, err
	}
	result := cron.HeartbeatResult{
		Status:     cron.HeartbeatRan,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if !ran {
		result.Status = cron.HeartbeatSkipped
		result.Reason = skipReason
	}
	slog.Debug("heartbeat: pass complete", "trigger", reason, "status", result.Status, "reason", result.Reason)
	return result, nil
}

var heartbeatToolDef = providers.ToolDef{
	Type: "function",
	Function: providers.FunctionDef{
		Name:        "heartbeat_decision",
		Description: "Decide whether to run the heartbeat action",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["skip", "run"]},
				"reason": {"type": "string"},
				"message": {"type": "string", "description": "Message to process if action is run"}
			},
			"required": ["action"]
		}`),
	},
}

type heartbeatDecision struct {
	Action  string `json:"action"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// pass reads HEARTBEAT.md, asks the model whether anything needs doing, and
// executes the decision. Returns ran=false with a reason when nothing ran.
func (s *Service) pass(ctx context.Context) (ran bool, skipReason string, err error) {
	heartbeatPath := filepath.Join(s.workspace, "HEARTBEAT.md")
	data, err := os.ReadFile(heartbeatPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, "no HEARTBEAT.md", nil
		}
		return false, "", err
	}

	req := providers.ChatRequest{
		Model: s.model,
		Messages: []providers.Message{
			{Role: "user", Content: string(data)},
		},
		Tools: []providers.ToolDef{heartbeatToolDef},
	}

	resp, err := s.provider.Chat(ctx, req)
	if err != nil {
		return false, "", err
	}
	if len(resp.ToolCalls) == 0 {
		return false, "no decision tool call", nil
	}

	var decision heartbeatDecision
	if err := json.Unmarshal([]byte(resp.ToolCalls[0].Arguments), &decision); err != nil {
		return false, "", err
	}

	switch decision.Action {
	case "run":
		slog.Info("heartbeat: decision=run", "reason", decision.Reason)
		if s.onExecute != nil {
			s.onExecute(ctx, decision.Message)
		}
		return true, "", nil
	case "skip":
		slog.Info("heartbeat: decision=skip", "reason", decision.Reason)
		return false, decision.Reason, nil
	default:
		slog.Warn("heartbeat: unknown action", "action", decision.Action)
		return false, "unknown action " + decision.Action, nil
	}
}
