package cron

// ScheduleKind defines how a cron job is scheduled.
type ScheduleKind string

const (
	ScheduleAt    ScheduleKind = "at"    // one-shot timestamp
	ScheduleEvery ScheduleKind = "every" // fixed interval from an anchor
	ScheduleCron  ScheduleKind = "cron"  // cron expression (e.g. "0 */2 * * *")
)

// Schedule is a tagged variant; exactly the fields for its Kind are set.
type Schedule struct {
	Kind     ScheduleKind `json:"kind"`
	AtMs     int64        `json:"atMs,omitempty"`
	EveryMs  int64        `json:"everyMs,omitempty"`
	AnchorMs int64        `json:"anchorMs,omitempty"`
	Expr     string       `json:"expr,omitempty"`
}

// SessionTarget selects the execution lane for a job.
type SessionTarget string

const (
	TargetMain     SessionTarget = "main"     // shared long-lived agent session
	TargetIsolated SessionTarget = "isolated" // ephemeral session created per run
)

// WakeMode controls how a main-session job coordinates with the heartbeat.
type WakeMode string

const (
	WakeNow           WakeMode = "now"
	WakeNextHeartbeat WakeMode = "next-heartbeat"
)

// PayloadKind tags what a job does when it fires.
type PayloadKind string

const (
	PayloadSystemEvent PayloadKind = "systemEvent" // post text into the main session
	PayloadAgentTurn   PayloadKind = "agentTurn"   // run an isolated agent turn
)

type Payload struct {
	Kind    PayloadKind `json:"kind"`
	Text    string      `json:"text,omitempty"`    // systemEvent
	Message string      `json:"message,omitempty"` // agentTurn
	Model   string      `json:"model,omitempty"`   // agentTurn model override
}

// DeliveryMode selects how a finished run's summary is surfaced.
type DeliveryMode string

const (
	DeliverNone     DeliveryMode = "none"
	DeliverAnnounce DeliveryMode = "announce"
	DeliverWebhook  DeliveryMode = "webhook"
)

// TargetLast is the special Channel/To value meaning "the most recent
// channel/recipient recorded for this session".
const TargetLast = "last"

type Delivery struct {
	Mode       DeliveryMode `json:"mode"`
	Channel    string       `json:"channel,omitempty"`
	To         string       `json:"to,omitempty"`
	BestEffort bool         `json:"bestEffort,omitempty"`
}

// RunStatus is the outcome of a single run.
type RunStatus string

const (
	StatusOK      RunStatus = "ok"
	StatusError   RunStatus = "error"
	StatusSkipped RunStatus = "skipped"
)

// JobState is runtime bookkeeping, mutated only through the locked store.
type JobState struct {
	NextRunAtMs    int64     `json:"nextRunAtMs,omitempty"`
	RunningAtMs    int64     `json:"runningAtMs,omitempty"`
	LastRunAtMs    int64     `json:"lastRunAtMs,omitempty"`
	LastStatus     RunStatus `json:"lastStatus,omitempty"`
	LastDurationMs int64     `json:"lastDurationMs,omitempty"`
	LastError      string    `json:"lastError,omitempty"`
	LastSummary    string    `json:"lastSummary,omitempty"`
}

type Job struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Enabled        bool          `json:"enabled"`
	CreatedAtMs    int64         `json:"createdAtMs"`
	UpdatedAtMs    int64         `json:"updatedAtMs"`
	Schedule       Schedule      `json:"schedule"`
	SessionTarget  SessionTarget `json:"sessionTarget"`
	WakeMode       WakeMode      `json:"wakeMode,omitempty"`
	Payload        Payload       `json:"payload"`
	Delivery       Delivery      `json:"delivery"`
	DeleteAfterRun bool          `json:"deleteAfterRun"`
	State          JobState      `json:"state"`
}

// StoreVersion is the current on-disk schema version. Documents with a lower
// (or missing) version pass through the legacy migrations at load time.
const StoreVersion = 1

// StoreDoc is the persisted document: one per store path.
type StoreDoc struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}

// Action classifies one scheduler event, recorded to the run log and
// dispatched to observers.
type Action string

const (
	ActionStarted  Action = "started"
	ActionFinished Action = "finished"
	ActionRemoved  Action = "removed"
	ActionSkipped  Action = "skipped"
)

// RunRecord is one append-only run-log line.
type RunRecord struct {
	TsMs    int64     `json:"ts"`
	JobID   string    `json:"jobId"`
	Action  Action    `json:"action"`
	Status  RunStatus `json:"status,omitempty"`
	Summary string    `json:"summary,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// RunResult is what an isolated-job execution reports back. Delivered=true
// means the run already sent its output directly (e.g. via a messaging tool
// call) and the delivery planner must not send again.
type RunResult struct {
	Status    RunStatus `json:"status"`
	Summary   string    `json:"summary,omitempty"`
	Error     string    `json:"error,omitempty"`
	Delivered bool      `json:"delivered,omitempty"`
}
