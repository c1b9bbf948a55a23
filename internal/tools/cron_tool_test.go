package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/coopco/relaybot/internal/cron"
)

type fakeCronService struct {
	jobs    map[string]cron.Job
	added   []cron.JobSpec
	removed []string
	ran     []string
}

func newFakeCronService() *fakeCronService {
	return &fakeCronService{jobs: make(map[string]cron.Job)}
}

func (f *fakeCronService) Add(_ context.Context, spec cron.JobSpec) (cron.Job, error) {
	f.added = append(f.added, spec)
	job := cron.Job{ID: "job-1", Name: spec.Name, Enabled: true}
	job.State.NextRunAtMs = 1700000000000
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeCronService) Update(_ context.Context, id string, patch cron.JobPatch) (cron.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return cron.Job{}, cron.ErrNotFound
	}
	if patch.Name != nil {
		job.Name = *patch.Name
	}
	f.jobs[id] = job
	return job, nil
}

func (f *fakeCronService) Remove(_ context.Context, id string) error {
	if _, ok := f.jobs[id]; !ok {
		return cron.ErrNotFound
	}
	delete(f.jobs, id)
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeCronService) Get(id string) (cron.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return cron.Job{}, cron.ErrNotFound
	}
	return job, nil
}

func (f *fakeCronService) List(includeDisabled bool) ([]cron.Job, error) {
	var out []cron.Job
	for _, j := range f.jobs {
		if !j.Enabled && !includeDisabled {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeCronService) Run(_ context.Context, id string, force bool) error {
	if _, ok := f.jobs[id]; !ok {
		return cron.ErrNotFound
	}
	f.ran = append(f.ran, id)
	return nil
}

func (f *fakeCronService) Runs(jobID string, limit int) ([]cron.RunRecord, error) {
	return []cron.RunRecord{{JobID: jobID, Action: cron.ActionFinished, Status: cron.StatusOK}}, nil
}

func (f *fakeCronService) Status() (cron.Status, error) {
	return cron.Status{Running: true, Jobs: len(f.jobs)}, nil
}

func exec(t *testing.T, tool *ManageCronTool, params map[string]any) string {
	t.Helper()
	raw, _ := json.Marshal(params)
	result, err := tool.Execute(context.Background(), raw)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	return result
}

func TestManageCronAddAndList(t *testing.T) {
	svc := newFakeCronService()
	tool := NewManageCronTool(svc)

	result := exec(t, tool, map[string]any{
		"action": "add",
		"job": map[string]any{
			"name":          "daily summary",
			"schedule":      map[string]any{"kind": "cron", "expr": "0 9 * * *"},
			"sessionTarget": "main",
			"payload":       map[string]any{"kind": "systemEvent", "text": "summarize"},
		},
	})
	if !strings.Contains(result, "Job added: job-1") {
		t.Errorf("unexpected add result: %s", result)
	}
	if len(svc.added) != 1 || svc.added[0].Name != "daily summary" {
		t.Errorf("spec not passed through: %+v", svc.added)
	}

	result = exec(t, tool, map[string]any{"action": "list"})
	if !strings.Contains(result, "job-1") || !strings.Contains(result, "daily summary") {
		t.Errorf("unexpected list result: %s", result)
	}
}

func TestManageCronRemove(t *testing.T) {
	svc := newFakeCronService()
	svc.jobs["job-9"] = cron.Job{ID: "job-9", Enabled: true}
	tool := NewManageCronTool(svc)

	result := exec(t, tool, map[string]any{"action": "remove", "job_id": "job-9"})
	if !strings.Contains(result, "Job removed: job-9") {
		t.Errorf("unexpected result: %s", result)
	}
	if len(svc.removed) != 1 {
		t.Errorf("expected one removal, got %v", svc.removed)
	}
}

func TestManageCronRunForwardsForce(t *testing.T) {
	svc := newFakeCronService()
	svc.jobs["job-2"] = cron.Job{ID: "job-2", Enabled: false}
	tool := NewManageCronTool(svc)

	result := exec(t, tool, map[string]any{"action": "run", "job_id": "job-2", "force": true})
	if !strings.Contains(result, "Job job-2 ran") {
		t.Errorf("unexpected result: %s", result)
	}
	if len(svc.ran) != 1 {
		t.Errorf("expected one run, got %v", svc.ran)
	}
}

func TestManageCronRuns(t *testing.T) {
	svc := newFakeCronService()
	tool := NewManageCronTool(svc)

	result := exec(t, tool, map[string]any{"action": "runs", "job_id": "job-3"})
	if !strings.Contains(result, "job-3") || !strings.Contains(result, "finished") {
		t.Errorf("unexpected runs result: %s", result)
	}
}

func TestManageCronStatus(t *testing.T) {
	svc := newFakeCronService()
	tool := NewManageCronTool(svc)

	result := exec(t, tool, map[string]any{"action": "status"})
	if !strings.Contains(result, `"running": true`) {
		t.Errorf("unexpected status result: %s", result)
	}
}

func TestManageCronMissingArgs(t *testing.T) {
	tool := NewManageCronTool(newFakeCronService())
	cases := []map[string]any{
		{"action": "add"},
		{"action": "update", "job_id": "x"},
		{"action": "update"},
		{"action": "remove"},
		{"action": "get"},
		{"action": "run"},
		{"action": "runs"},
		{"action": "bogus"},
	}
	for _, c := range cases {
		raw, _ := json.Marshal(c)
		if _, err := tool.Execute(context.Background(), raw); err == nil {
			t.Errorf("expected error for %v", c)
		}
	}
}
