package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coopco/relaybot/internal/cron"
)

// CronService is the slice of the scheduler API the tool needs.
type CronService interface {
	Add(ctx context.Context, spec cron.JobSpec) (cron.Job, error)
	Update(ctx context.Context, id string, patch cron.JobPatch) (cron.Job, error)
	Remove(ctx context.Context, id string) error
	Get(id string) (cron.Job, error)
	List(includeDisabled bool) ([]cron.Job, error)
	Run(ctx context.Context, id string, force bool) error
	Runs(jobID string, limit int) ([]cron.RunRecord, error)
	Status() (cron.Status, error)
}

// ManageCronTool lets the agent manage scheduled jobs.
type ManageCronTool struct {
	svc CronService
}

func NewManageCronTool(svc CronService) *ManageCronTool {
	return &ManageCronTool{svc: svc}
}

func (t *ManageCronTool) Name() string { return "manage_cron" }

func (t *ManageCronTool) Description() string {
	return "Add, update, remove, list, or run scheduled jobs, and inspect scheduler status and run history"
}

func (t *ManageCronTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"enum": ["add", "update", "remove", "list", "get", "run", "runs", "status"],
				"description": "Action to perform"
			},
			"job_id": {
				"type": "string",
				"description": "Job ID (for update, remove, get, run, runs)"
			},
			"job": {
				"type": "object",
				"description": "Job spec (for add): name, schedule {kind: at|every|cron, atMs, everyMs, expr}, sessionTarget (main|isolated), wakeMode, payload, delivery"
			},
			"patch": {
				"type": "object",
				"description": "Partial job fields to change (for update)"
			},
			"force": {
				"type": "boolean",
				"description": "Run even if the job is disabled (for run)"
			},
			"include_disabled": {
				"type": "boolean",
				"description": "Include disabled jobs (for list)"
			},
			"limit": {
				"type": "integer",
				"description": "Max history entries to return (for runs)"
			}
		},
		"required": ["action"]
	}`)
}

func (t *ManageCronTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var p struct {
		Action          string          `json:"action"`
		JobID           string          `json:"job_id"`
		Job             json.RawMessage `json:"job"`
		Patch           json.RawMessage `json:"patch"`
		Force           bool            `json:"force"`
		IncludeDisabled bool            `json:"include_disabled"`
		Limit           int             `json:"limit"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	switch p.Action {
	case "add":
		if len(p.Job) == 0 {
			return "", fmt.Errorf("job is required for add action")
		}
		var spec cron.JobSpec
		if err := json.Unmarshal(p.Job, &spec); err != nil {
			return "", fmt.Errorf("invalid job spec: %w", err)
		}
		job, err := t.svc.Add(ctx, spec)
		if err != nil {
			return "", fmt.Errorf("failed to add job: %w", err)
		}
		return fmt.Sprintf("Job added: %s (next run %s)", job.ID, formatMs(job.State.NextRunAtMs)), nil

	case "update":
		if p.JobID == "" {
			return "", fmt.Errorf("job_id is required for update action")
		}
		if len(p.Patch) == 0 {
			return "", fmt.Errorf("patch is required for update action")
		}
		var patch cron.JobPatch
		if err := json.Unmarshal(p.Patch, &patch); err != nil {
			return "", fmt.Errorf("invalid patch: %w", err)
		}
		job, err := t.svc.Update(ctx, p.JobID, patch)
		if err != nil {
			return "", fmt.Errorf("failed to update job: %w", err)
		}
		return fmt.Sprintf("Job updated: %s (next run %s)", job.ID, formatMs(job.State.NextRunAtMs)), nil

	case "remove":
		if p.JobID == "" {
			return "", fmt.Errorf("job_id is required for remove action")
		}
		if err := t.svc.Remove(ctx, p.JobID); err != nil {
			return "", fmt.Errorf("failed to remove job: %w", err)
		}
		return fmt.Sprintf("Job removed: %s", p.JobID), nil

	case "get":
		if p.JobID == "" {
			return "", fmt.Errorf("job_id is required for get action")
		}
		job, err := t.svc.Get(p.JobID)
		if err != nil {
			return "", err
		}
		out, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return "", err
		}
		return string(out), nil

	case "list":
		jobs, err := t.svc.List(p.IncludeDisabled)
		if err != nil {
			return "", fmt.Errorf("failed to list jobs: %w", err)
		}
		if len(jobs) == 0 {
			return "No jobs scheduled", nil
		}
		var b strings.Builder
		for _, j := range jobs {
			state := "enabled"
			if !j.Enabled {
				state = "disabled"
			}
			fmt.Fprintf(&b, "%s  %s  [%s]  next %s\n", j.ID, j.Name, state, formatMs(j.State.NextRunAtMs))
		}
		return b.String(), nil

	case "run":
		if p.JobID == "" {
			return "", fmt.Errorf("job_id is required for run action")
		}
		if err := t.svc.Run(ctx, p.JobID, p.Force); err != nil {
			if errors.Is(err, cron.ErrNotFound) {
				return "", err
			}
			return fmt.Sprintf("Job %s ran with error: %v", p.JobID, err), nil
		}
		return fmt.Sprintf("Job %s ran", p.JobID), nil

	case "runs":
		if p.JobID == "" {
			return "", fmt.Errorf("job_id is required for runs action")
		}
		limit := p.Limit
		if limit <= 0 {
			limit = 10
		}
		recs, err := t.svc.Runs(p.JobID, limit)
		if err != nil {
			return "", fmt.Errorf("failed to read run history: %w", err)
		}
		if len(recs) == 0 {
			return "No runs recorded", nil
		}
		out, err := json.MarshalIndent(recs, "", "  ")
		if err != nil {
			return "", err
		}
		return string(out), nil

	case "status":
		st, err := t.svc.Status()
		if err != nil {
			return "", fmt.Errorf("failed to read status: %w", err)
		}
		out, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return "", err
		}
		return string(out), nil

	default:
		return "", fmt.Errorf("invalid action: %s", p.Action)
	}
}

func formatMs(ms int64) string {
	if ms <= 0 {
		return "never"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
