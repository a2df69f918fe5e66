package recorder

import (
	"context"
	"time"

	"github.com/SmitUplenchwar2687/checkpoint/internal/checkpoint"
	"github.com/SmitUplenchwar2687/checkpoint/internal/clock"
	"github.com/SmitUplenchwar2687/checkpoint/internal/keys"
	"github.com/SmitUplenchwar2687/checkpoint/internal/limiter"
)

// Outcomes of an admission check.
const (
	OutcomeAdmitted = "admitted"
	OutcomeRejected = "rejected"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// AdmissionEvent is one check as seen by the façade.
type AdmissionEvent struct {
	Time      time.Time         `json:"time"`
	Algorithm limiter.Algorithm `json:"algorithm"`
	Path      string            `json:"path"`
	Host      string            `json:"host,omitempty"`
	Key       string            `json:"key,omitempty"`
	Outcome   string            `json:"outcome"`
	Status    int               `json:"status,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Decision  *limiter.Decision `json:"decision,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// NewEvent builds the event for a finished check.
func NewEvent(now time.Time, alg limiter.Algorithm, req keys.Request, v checkpoint.Verdict, err error) AdmissionEvent {
	ev := AdmissionEvent{
		Time:      now,
		Algorithm: alg,
		Path:      req.Path(),
		Host:      req.Host(),
		Key:       v.Key,
	}
	switch {
	case err != nil:
		ev.Outcome = OutcomeError
		ev.Error = err.Error()
	case v.Admitted:
		ev.Outcome = OutcomeAdmitted
	case v.Rejection != nil && v.Rejection.Kind == checkpoint.RejectInvalidRequest:
		ev.Outcome = OutcomeInvalid
	default:
		ev.Outcome = OutcomeRejected
	}
	if v.Rejection != nil {
		ev.Status = v.Rejection.Status
		ev.Reason = v.Rejection.Reason
	}
	if v.Key != "" && err == nil {
		d := v.Decision
		ev.Decision = &d
	}
	return ev
}

// Hooks returns façade hooks that pass every finished check to fn.
func Hooks(clk clock.Clock, alg limiter.Algorithm, fn func(AdmissionEvent)) checkpoint.Hooks {
	return checkpoint.Hooks{
		AfterCheck: func(_ context.Context, req keys.Request, v checkpoint.Verdict, err error) {
			fn(NewEvent(clk.Now(), alg, req, v, err))
		},
	}
}
