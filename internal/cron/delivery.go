package cron

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// NoReplySentinel is the summary value an agent run uses to say "nothing
// worth surfacing". It suppresses delivery the same way an empty summary does.
const NoReplySentinel = "NO_REPLY"

// SendOptions carries channel-specific hints through an announce send.
type SendOptions struct {
	Thread string // thread/topic identifier, preserved when available
}

// ChannelSender is the per-channel send collaborator (the channel manager in
// this repo; the gateway may supply its own).
type ChannelSender interface {
	Send(channel, to, text string, opts SendOptions) error
}

// Route identifies where a session last talked.
type Route struct {
	Channel string
	To      string
	Thread  string
}

// RouteResolver resolves the special "last" announce target to the most
// recent route recorded for the session.
type RouteResolver interface {
	Last() (Route, bool)
}

// Deliverer decides whether and how a finished run's summary is surfaced:
// nothing, an in-session announce, or a webhook POST.
type Deliverer struct {
	Sender       ChannelSender
	Routes       RouteResolver
	WebhookURL   string // configured endpoint, used when the job has none
	WebhookToken string
	Client       *http.Client
}

// webhookBody is the POST payload for webhook delivery.
type webhookBody struct {
	Action  string    `json:"action"`
	JobID   string    `json:"jobId"`
	Status  RunStatus `json:"status"`
	Summary string    `json:"summary"`
}

// Deliver performs the single delivery action for a finished job. It returns
// whether a send happened and, for non-best-effort jobs, any send failure.
// Best-effort failures are swallowed: the job keeps its execution status and
// the result simply carries delivered=false.
func (d *Deliverer) Deliver(ctx context.Context, job Job, res RunResult) (bool, error) {
	if res.Delivered {
		return false, nil // the run already sent its output directly
	}
	summary := strings.TrimSpace(res.Summary)
	if summary == "" || summary == NoReplySentinel {
		return false, nil
	}

	var err error
	switch job.Delivery.Mode {
	case DeliverNone:
		return false, nil
	case DeliverAnnounce:
		err = d.announce(job, summary)
	case DeliverWebhook:
		err = d.webhook(ctx, job, res.Status, summary)
	default:
		return false, nil
	}

	if err != nil {
		if job.Delivery.BestEffort {
			slog.Warn("cron: best-effort delivery failed", "jobID", job.ID, "mode", job.Delivery.Mode, "error", err)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *Deliverer) announce(job Job, summary string) error {
	if d.Sender == nil {
		return fmt.Errorf("cron: no channel sender configured for announce delivery")
	}
	channel, to, thread := job.Delivery.Channel, job.Delivery.To, ""
	if channel == "" || channel == TargetLast || to == "" || to == TargetLast {
		route, ok := Route{}, false
		if d.Routes != nil {
			route, ok = d.Routes.Last()
		}
		if !ok {
			return fmt.Errorf("cron: no recorded route for %q announce target", TargetLast)
		}
		if channel == "" || channel == TargetLast {
			channel = route.Channel
		}
		if to == "" || to == TargetLast {
			to = route.To
		}
		thread = route.Thread
	}
	return d.Sender.Send(channel, to, summary, SendOptions{Thread: thread})
}

func (d *Deliverer) webhook(ctx context.Context, job Job, status RunStatus, summary string) error {
	url := job.Delivery.To
	if url == "" || url == TargetLast {
		url = d.WebhookURL
	}
	if url == "" {
		return fmt.Errorf("cron: no webhook URL configured")
	}

	body, err := json.Marshal(webhookBody{
		Action:  "finished",
		JobID:   job.ID,
		Status:  status,
		Summary: summary,
	})
	if err != nil {
		return fmt.Errorf("cron: marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cron: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.WebhookToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.WebhookToken)
	}

	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("cron: webhook POST: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("cron: webhook POST returned %s", resp.Status)
	}
	return nil
}
