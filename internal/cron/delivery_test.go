package cron

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordingSender struct {
	calls []sendCall
	err   error
}

type sendCall struct {
	channel, to, text string
	opts              SendOptions
}

func (r *recordingSender) Send(channel, to, text string, opts SendOptions) error {
	r.calls = append(r.calls, sendCall{channel, to, text, opts})
	return r.err
}

type fixedRoutes struct {
	route Route
	ok    bool
}

func (f fixedRoutes) Last() (Route, bool) { return f.route, f.ok }

func announceJob() Job {
	return Job{
		ID:       "job-a",
		Delivery: Delivery{Mode: DeliverAnnounce, Channel: "telegram", To: "42"},
	}
}

func TestDeliverNone(t *testing.T) {
	sender := &recordingSender{}
	d := &Deliverer{Sender: sender}

	job := announceJob()
	job.Delivery = Delivery{Mode: DeliverNone}
	sent, err := d.Deliver(context.Background(), job, RunResult{Status: StatusOK, Summary: "done"})
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if sent || len(sender.calls) != 0 {
		t.Errorf("none mode must not send: sent=%v calls=%v", sent, sender.calls)
	}
}

func TestDeliverAnnounce(t *testing.T) {
	sender := &recordingSender{}
	d := &Deliverer{Sender: sender}

	sent, err := d.Deliver(context.Background(), announceJob(), RunResult{Status: StatusOK, Summary: "all good"})
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if !sent {
		t.Error("expected a send")
	}
	if len(sender.calls) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sender.calls))
	}
	call := sender.calls[0]
	if call.channel != "telegram" || call.to != "42" || call.text != "all good" {
		t.Errorf("unexpected send: %+v", call)
	}
}

func TestDeliverSuppressedSummaries(t *testing.T) {
	for _, summary := range []string{"", "   ", NoReplySentinel, "  NO_REPLY  "} {
		sender := &recordingSender{}
		d := &Deliverer{Sender: sender}
		sent, err := d.Deliver(context.Background(), announceJob(), RunResult{Status: StatusOK, Summary: summary})
		if err != nil {
			t.Fatalf("Deliver(%q) failed: %v", summary, err)
		}
		if sent || len(sender.calls) != 0 {
			t.Errorf("summary %q must suppress delivery", summary)
		}
	}
}

func TestDeliverAlreadyDelivered(t *testing.T) {
	sender := &recordingSender{}
	d := &Deliverer{Sender: sender}

	sent, err := d.Deliver(context.Background(), announceJob(), RunResult{
		Status: StatusOK, Summary: "sent inline already", Delivered: true,
	})
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if sent || len(sender.calls) != 0 {
		t.Error("delivered=true runs must produce zero sends")
	}
}

func TestDeliverAnnounceLastTarget(t *testing.T) {
	sender := &recordingSender{}
	d := &Deliverer{
		Sender: sender,
		Routes: fixedRoutes{route: Route{Channel: "discord", To: "C77", Thread: "T3"}, ok: true},
	}

	job := announceJob()
	job.Delivery = Delivery{Mode: DeliverAnnounce, Channel: TargetLast, To: TargetLast}
	sent, err := d.Deliver(context.Background(), job, RunResult{Status: StatusOK, Summary: "hi"})
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if !sent {
		t.Fatal("expected a send")
	}
	call := sender.calls[0]
	if call.channel != "discord" || call.to != "C77" {
		t.Errorf("last route not resolved: %+v", call)
	}
	if call.opts.Thread != "T3" {
		t.Errorf("thread not preserved: %+v", call.opts)
	}
}

func TestDeliverAnnounceLastWithoutRoute(t *testing.T) {
	d := &Deliverer{Sender: &recordingSender{}, Routes: fixedRoutes{}}

	job := announceJob()
	job.Delivery = Delivery{Mode: DeliverAnnounce, To: TargetLast, Channel: TargetLast}
	if _, err := d.Deliver(context.Background(), job, RunResult{Status: StatusOK, Summary: "hi"}); err == nil {
		t.Fatal("expected error when no route was ever recorded")
	}
}

func TestDeliverBestEffortSwallowsFailure(t *testing.T) {
	sender := &recordingSender{err: errors.New("network down")}
	d := &Deliverer{Sender: sender}

	job := announceJob()
	job.Delivery.BestEffort = true
	sent, err := d.Deliver(context.Background(), job, RunResult{Status: StatusOK, Summary: "hi"})
	if err != nil {
		t.Fatalf("best-effort failure must not surface: %v", err)
	}
	if sent {
		t.Error("failed send must report delivered=false")
	}
}

func TestDeliverStrictFailureSurfaces(t *testing.T) {
	sender := &recordingSender{err: errors.New("network down")}
	d := &Deliverer{Sender: sender}

	if _, err := d.Deliver(context.Background(), announceJob(), RunResult{Status: StatusOK, Summary: "hi"}); err == nil {
		t.Fatal("expected send failure to surface")
	}
}

func TestDeliverWebhook(t *testing.T) {
	var gotAuth string
	var gotBody webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := &Deliverer{WebhookURL: srv.URL, WebhookToken: "secret"}
	job := Job{ID: "job-w", Delivery: Delivery{Mode: DeliverWebhook}}

	sent, err := d.Deliver(context.Background(), job, RunResult{Status: StatusOK, Summary: "report ready"})
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if !sent {
		t.Error("expected webhook delivery")
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	want := webhookBody{Action: "finished", JobID: "job-w", Status: StatusOK, Summary: "report ready"}
	if gotBody != want {
		t.Errorf("unexpected body: %+v want %+v", gotBody, want)
	}
}

func TestDeliverWebhookJobURLOverrides(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer srv.Close()

	d := &Deliverer{WebhookURL: "http://127.0.0.1:1/unreachable"}
	job := Job{ID: "job-w", Delivery: Delivery{Mode: DeliverWebhook, To: srv.URL}}

	if _, err := d.Deliver(context.Background(), job, RunResult{Status: StatusOK, Summary: "x"}); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if !hit {
		t.Error("job-level webhook URL must win over the configured endpoint")
	}
}

func TestDeliverWebhookNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	d := &Deliverer{WebhookURL: srv.URL}
	job := Job{ID: "job-w", Delivery: Delivery{Mode: DeliverWebhook}}

	if _, err := d.Deliver(context.Background(), job, RunResult{Status: StatusOK, Summary: "x"}); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestDeliverWebhookNoURL(t *testing.T) {
	d := &Deliverer{}
	job := Job{ID: "job-w", Delivery: Delivery{Mode: DeliverWebhook}}
	if _, err := d.Deliver(context.Background(), job, RunResult{Status: StatusOK, Summary: "x"}); err == nil {
		t.Fatal("expected error when no webhook URL is available")
	}
}
