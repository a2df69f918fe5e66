// Package checkpoint is the admission façade: it derives a request's key,
// runs the configured limiter and turns the outcome into a Verdict with
// protocol-ready rejection metadata.
package checkpoint

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/SmitUplenchwar2687/checkpoint/internal/clock"
	"github.com/SmitUplenchwar2687/checkpoint/internal/keys"
	"github.com/SmitUplenchwar2687/checkpoint/internal/limiter"
)

// Reasons reported on rejections.
const (
	ReasonQuotaExceeded = "You have exceeded your network requests rate"
	ReasonMissingField  = "Expected field not found at headers or query parameters"
	ReasonMissingHost   = "Unable to recover host from request"
)

// Header names set on quota rejections.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// RejectionKind separates quota rejections from malformed requests.
type RejectionKind int

const (
	RejectQuotaExceeded RejectionKind = iota + 1
	RejectInvalidRequest
)

func (k RejectionKind) String() string {
	switch k {
	case RejectQuotaExceeded:
		return "quota_exceeded"
	case RejectInvalidRequest:
		return "invalid_request"
	default:
		return "unknown"
	}
}

// Rejection describes why a request was turned away and how to say so.
// Hooks may add headers or rewrite the reason before it is surfaced.
type Rejection struct {
	Kind    RejectionKind
	Status  int
	Reason  string
	Headers http.Header
	Err     error
}

// Verdict is the outcome of one check.
type Verdict struct {
	Admitted  bool
	Key       string
	Decision  limiter.Decision
	Rejection *Rejection
}

// Hooks are notification points around a check. They never change the
// verdict; AfterQuotaExceeded may enrich the rejection metadata.
type Hooks struct {
	BeforeCheck        func(ctx context.Context, req keys.Request)
	AfterAdmitted      func(ctx context.Context, req keys.Request, v Verdict)
	AfterQuotaExceeded func(ctx context.Context, req keys.Request, v Verdict, r *Rejection)
	AfterFailure       func(ctx context.Context, req keys.Request, err error)
	// AfterCheck fires last on every check with the final verdict and error.
	AfterCheck func(ctx context.Context, req keys.Request, v Verdict, err error)
}

// Option configures a Checkpoint.
type Option func(*Checkpoint)

// WithHooks adds a set of hooks. Hook sets run in registration order.
func WithHooks(h Hooks) Option {
	return func(c *Checkpoint) { c.hooks = append(c.hooks, h) }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Checkpoint) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the clock used to compute Retry-After.
func WithClock(cl clock.Clock) Option {
	return func(c *Checkpoint) {
		if cl != nil {
			c.clock = cl
		}
	}
}

// Checkpoint wraps exactly one limiter.
type Checkpoint struct {
	limiter limiter.RateLimiter
	hooks   []Hooks
	logger  log.Logger
	clock   clock.Clock
}

// New wraps l.
func New(l limiter.RateLimiter, opts ...Option) *Checkpoint {
	c := &Checkpoint{
		limiter: l,
		logger:  log.NewNopLogger(),
		clock:   clock.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = log.With(c.logger, "component", "checkpoint", "algorithm", string(l.Algorithm()))
	return c
}

// Limiter returns the wrapped limiter.
func (c *Checkpoint) Limiter() limiter.RateLimiter {
	return c.limiter
}

// Check decides whether req is admitted.
//
// Malformed requests come back as a rejection of kind RejectInvalidRequest
// with a nil error. A non-nil error means the store could not be
// consulted; whether to admit or reject then is the caller's choice.
func (c *Checkpoint) Check(ctx context.Context, req keys.Request) (v Verdict, err error) {
	defer func() {
		for _, h := range c.hooks {
			if h.AfterCheck != nil {
				h.AfterCheck(ctx, req, v, err)
			}
		}
	}()

	for _, h := range c.hooks {
		if h.BeforeCheck != nil {
			h.BeforeCheck(ctx, req)
		}
	}

	key, err := c.limiter.Selector().Derive(req)
	if err != nil {
		c.notifyFailure(ctx, req, err)
		rej := invalidRequest(err)
		if rej == nil {
			return Verdict{}, err
		}
		_ = level.Debug(c.logger).Log("msg", "request rejected", "reason", rej.Reason, "err", err)
		return Verdict{Rejection: rej}, nil
	}

	d, err := c.limiter.CheckRequest(ctx, key)
	if err != nil {
		_ = level.Error(c.logger).Log("msg", "rate limit check failed", "key", key, "err", err)
		c.notifyFailure(ctx, req, err)
		return Verdict{Key: key}, err
	}

	v = Verdict{Admitted: d.Allowed, Key: key, Decision: d}
	if d.Allowed {
		for _, h := range c.hooks {
			if h.AfterAdmitted != nil {
				h.AfterAdmitted(ctx, req, v)
			}
		}
		return v, nil
	}

	v.Rejection = c.quotaExceeded(d)
	for _, h := range c.hooks {
		if h.AfterQuotaExceeded != nil {
			h.AfterQuotaExceeded(ctx, req, v, v.Rejection)
		}
	}
	return v, nil
}

// Close closes the wrapped limiter.
func (c *Checkpoint) Close() error {
	return c.limiter.Close()
}

func (c *Checkpoint) notifyFailure(ctx context.Context, req keys.Request, err error) {
	for _, h := range c.hooks {
		if h.AfterFailure != nil {
			h.AfterFailure(ctx, req, err)
		}
	}
}

func (c *Checkpoint) quotaExceeded(d limiter.Decision) *Rejection {
	h := http.Header{}
	h.Set(HeaderLimit, strconv.FormatInt(d.Limit, 10))
	h.Set(HeaderRemaining, strconv.FormatInt(d.Remaining, 10))
	if !d.ResetAt.IsZero() {
		h.Set(HeaderReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
		h.Set(HeaderRetryAfter, strconv.FormatInt(retryAfter(d.ResetAt.Sub(c.clock.Now())), 10))
	}
	return &Rejection{
		Kind:    RejectQuotaExceeded,
		Status:  http.StatusTooManyRequests,
		Reason:  ReasonQuotaExceeded,
		Headers: h,
	}
}

// retryAfter rounds d up to whole seconds, never below zero.
func retryAfter(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}

// invalidRequest maps key derivation failures to rejections. It returns
// nil for errors that are not caused by the request.
func invalidRequest(err error) *Rejection {
	switch {
	case errors.Is(err, keys.ErrMissingIdentityField):
		return &Rejection{
			Kind:    RejectInvalidRequest,
			Status:  http.StatusUnauthorized,
			Reason:  ReasonMissingField,
			Headers: http.Header{},
			Err:     err,
		}
	case errors.Is(err, keys.ErrMissingScopeHost):
		return &Rejection{
			Kind:    RejectInvalidRequest,
			Status:  http.StatusBadRequest,
			Reason:  ReasonMissingHost,
			Headers: http.Header{},
			Err:     err,
		}
	default:
		return nil
	}
}
