package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coopco/relaybot/internal/cron"
	"github.com/coopco/relaybot/internal/providers"
	"github.com/coopco/relaybot/internal/tools"
)

// Runner executes isolated agent turns: each job run gets a fresh message
// history, a tool loop, and no persisted session. A run that sends its own
// output through the send_message tool reports delivered=true so the
// scheduler's delivery planner does not send a second copy.
type Runner struct {
	provider     providers.Provider
	tools        *tools.Registry
	model        string
	maxTokens    int
	temperature  float64
	maxIter      int
	systemPrompt string
}

type RunnerConfig struct {
	Provider      providers.Provider
	Tools         *tools.Registry
	Model         string
	MaxTokens     int
	Temperature   float64
	MaxIterations int
	SystemPrompt  string
}

func NewRunner(cfg RunnerConfig) *Runner {
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 40
	}
	return &Runner{
		provider:     cfg.Provider,
		tools:        cfg.Tools,
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		maxIter:      maxIter,
		systemPrompt: cfg.SystemPrompt,
	}
}

// RunJob runs one agentTurn payload to completion. The final assistant text
// becomes the run summary; an empty or NO_REPLY summary suppresses delivery
// downstream.
func (r *Runner) RunJob(ctx context.Context, job cron.Job) (cron.RunResult, error) {
	model := job.Payload.Model
	if model == "" {
		model = r.model
	}

	start := time.Now()
	slog.Info("agent: isolated run starting", "jobID", job.ID, "model", model)

	messages := []providers.Message{{Role: "user", Content: job.Payload.Message}}
	summary, delivered, err := r.runToolLoop(ctx, model, messages)
	if err != nil {
		return cron.RunResult{}, err
	}

	slog.Info("agent: isolated run finished", "jobID", job.ID, "duration", time.Since(start), "delivered", delivered)
	return cron.RunResult{
		Status:    cron.StatusOK,
		Summary:   strings.TrimSpace(summary),
		Delivered: delivered,
	}, nil
}

// runToolLoop executes the LLM + tool call loop and returns the final text
// response plus whether a send_message call surfaced output directly.
func (r *Runner) runToolLoop(ctx context.Context, model string, messages []providers.Message) (string, bool, error) {
	toolDefs := toolDefsToProviderTools(r.tools.Definitions())
	delivered := false

	for i := 0; i < r.maxIter; i++ {
		req := providers.ChatRequest{
			Model:        model,
			Messages:     messages,
			Tools:        toolDefs,
			MaxTokens:    r.maxTokens,
			Temperature:  r.temperature,
			SystemPrompt: r.systemPrompt,
		}

		resp, err := r.provider.Chat(ctx, req)
		if err != nil {
			return "", delivered, fmt.Errorf("provider chat error: %w", err)
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			return resp.Content, delivered, nil
		}

		for _, tc := range resp.ToolCalls {
			slog.Debug("agent: executing tool", "name", tc.Name, "id", tc.ID)
			if tc.Name == "send_message" {
				delivered = true
			}
			result := r.tools.Execute(ctx, tc.Name, json.RawMessage(tc.Arguments))
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	// Exceeded maxIter; return whatever the last assistant content was.
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" && messages[i].Content != "" {
			return messages[i].Content, delivered, nil
		}
	}
	return "", delivered, fmt.Errorf("max iterations (%d) reached without a final response", r.maxIter)
}

// toolDefsToProviderTools converts tool registry definitions to provider tool format.
func toolDefsToProviderTools(defs []tools.ToolDefinition) []providers.ToolDef {
	result := make([]providers.ToolDef, len(defs))
	for i, d := range defs {
		result[i] = providers.ToolDef{
			Type: d.Type,
			Function: providers.FunctionDef{
				Name:        d.Function.Name,
				Description: d.Function.Description,
				Parameters:  d.Function.Parameters,
			},
		}
	}
	return result
}
