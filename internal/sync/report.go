package sync

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Severity of a report event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// EntityKind names the kind of entity an event is about.
type EntityKind string

const (
	KindUser      EntityKind = "user"
	KindGroup     EntityKind = "group"
	KindProfile   EntityKind = "profile"
	KindDirectory EntityKind = "directory"
)

// Action describes what happened to an entity during a run.
type Action string

const (
	ActionCreated             Action = "created"
	ActionUnchanged           Action = "unchanged"
	ActionFieldUpdated        Action = "field-updated"
	ActionProfileCreated      Action = "profile-created"
	ActionProfileFieldUpdated Action = "profile-field-updated"
	ActionConflict            Action = "conflict"
	ActionStoreError          Action = "store-error"
	ActionProtocolWarning     Action = "protocol-warning"
	ActionConnectionError     Action = "connection-error"
	ActionMembersUnresolved   Action = "members-unresolved"
)

// Status of a completed run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Event is one record of what the engine did or observed. Events are
// appended in occurrence order and never mutated afterwards.
type Event struct {
	Severity Severity
	Kind     EntityKind
	Key      string // entity identifier (username, group name, external id)
	Action   Action
	Detail   string
}

// Report accumulates the outcome of one sync run. It is append-only while
// the run executes and read-only once the run terminates; a report is
// always produced, even when the run fails during fetch.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     Status
	Events     []Event

	// Records excluded because their identity attribute was absent.
	SkippedUsers  int
	SkippedGroups int
}

func newReport() *Report {
	return &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    StatusRunning,
	}
}

func (r *Report) append(ev Event) {
	r.Events = append(r.Events, ev)
}

func (r *Report) finish(status Status) {
	r.Status = status
	r.FinishedAt = time.Now().UTC()
}

// Count returns how many events carry the given action.
func (r *Report) Count(action Action) int {
	n := 0
	for _, ev := range r.Events {
		if ev.Action == action {
			n++
		}
	}
	return n
}

// CountKind returns how many events carry the given action for the given
// entity kind.
func (r *Report) CountKind(kind EntityKind, action Action) int {
	n := 0
	for _, ev := range r.Events {
		if ev.Kind == kind && ev.Action == action {
			n++
		}
	}
	return n
}

// Duration of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary returns log fields describing the run outcome.
func (r *Report) Summary() logrus.Fields {
	return logrus.Fields{
		"run_id":           r.RunID,
		"status":           string(r.Status),
		"duration":         r.Duration().String(),
		"groups_created":   r.CountKind(KindGroup, ActionCreated),
		"groups_unchanged": r.CountKind(KindGroup, ActionUnchanged),
		"groups_skipped":   r.SkippedGroups,
		"users_created":    r.CountKind(KindUser, ActionCreated),
		"users_updated":    r.CountKind(KindUser, ActionFieldUpdated),
		"users_skipped":    r.SkippedUsers,
		"profiles_created": r.Count(ActionProfileCreated),
		"profiles_updated": r.Count(ActionProfileFieldUpdated),
		"conflicts":        r.Count(ActionConflict),
		"store_errors":     r.Count(ActionStoreError),
	}
}
