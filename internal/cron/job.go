package cron

import (
	"time"

	"github.com/google/uuid"
)

// Schedule describes when a job fires: a cron expression (with seconds)
// or a fixed interval.
type Schedule struct {
	Kind    string `json:"kind"` // "cron" or "every"
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"every_ms,omitempty"`
}

// Payload names the work a job triggers; the gateway switches on Kind.
type Payload struct {
	Kind string `json:"kind"`
}

type JobState struct {
	LastRunAtMs int64  `json:"last_run_at_ms"`
	LastStatus  string `json:"last_status,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

type CronJob struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Enabled  bool     `json:"enabled"`
	Schedule Schedule `json:"schedule"`
	Payload  Payload  `json:"payload"`
	State    JobState `json:"state"`
}

func NewCronJob(name string, schedule Schedule, payload Payload) CronJob {
	return CronJob{
		ID:       uuid.NewString(),
		Name:     name,
		Enabled:  true,
		Schedule: schedule,
		Payload:  payload,
		State:    JobState{LastRunAtMs: time.Now().UnixMilli()},
	}
}
