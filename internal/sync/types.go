package sync

import (
	"fmt"
	"time"
)

type SyncType string

const (
	SyncAll  SyncType = "all"
	SyncPush SyncType = "push"
	SyncPull SyncType = "pull"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// Result accumulates the counts of one sync run across all collections.
type Result struct {
	Type        SyncType  `json:"type"`
	Uploaded    int       `json:"uploaded"`
	Downloaded  int       `json:"downloaded"`
	Conflicts   int       `json:"conflicts"`
	Errors      []string  `json:"errors"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Outcome classifies the run purely by error count: 0 succeeded, up to
// two is partial, three or more failed.
func (r *Result) Outcome() Outcome {
	switch {
	case len(r.Errors) == 0:
		return OutcomeSuccess
	case len(r.Errors) <= 2:
		return OutcomePartial
	default:
		return OutcomeFailed
	}
}

func (r *Result) recordError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) String() string {
	return fmt.Sprintf("[%s] %s: up=%d down=%d conflicts=%d errors=%d",
		r.Type, r.Outcome(), r.Uploaded, r.Downloaded, r.Conflicts, len(r.Errors))
}
