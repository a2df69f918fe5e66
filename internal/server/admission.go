package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/SmitUplenchwar2687/checkpoint/internal/checkpoint"
	"github.com/SmitUplenchwar2687/checkpoint/internal/keys"
)

type verdictKey struct{}

// VerdictFromContext returns the verdict the admission middleware stored
// for an admitted request.
func VerdictFromContext(ctx context.Context) (checkpoint.Verdict, bool) {
	v, ok := ctx.Value(verdictKey{}).(checkpoint.Verdict)
	return v, ok
}

type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// Admission returns middleware that runs every request through cp.
//
// Rejected requests get the rejection's status, headers and reason as a
// JSON body. When the store cannot be consulted the request is let
// through if failOpen is set and answered with 503 otherwise.
func Admission(cp *checkpoint.Checkpoint, failOpen bool, logger log.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v, err := cp.Check(r.Context(), keys.FromHTTP(r))
			if err != nil {
				if failOpen {
					_ = level.Warn(logger).Log("msg", "admission check failed, failing open", "path", r.URL.Path, "err", err)
					next.ServeHTTP(w, r)
					return
				}
				_ = level.Error(logger).Log("msg", "admission check failed", "path", r.URL.Path, "err", err)
				writeJSON(w, http.StatusServiceUnavailable, errorBody{
					Error:  "rate limiter unavailable",
					Status: http.StatusServiceUnavailable,
				})
				return
			}

			if !v.Admitted {
				for name, values := range v.Rejection.Headers {
					for _, value := range values {
						w.Header().Add(name, value)
					}
				}
				writeJSON(w, v.Rejection.Status, errorBody{Error: v.Rejection.Reason, Status: v.Rejection.Status})
				return
			}

			h := w.Header()
			h.Set(checkpoint.HeaderLimit, strconv.FormatInt(v.Decision.Limit, 10))
			h.Set(checkpoint.HeaderRemaining, strconv.FormatInt(v.Decision.Remaining, 10))
			if !v.Decision.ResetAt.IsZero() {
				h.Set(checkpoint.HeaderReset, strconv.FormatInt(v.Decision.ResetAt.Unix(), 10))
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), verdictKey{}, v)))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
