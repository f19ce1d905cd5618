// Package provider adapts native push gateways to one Send contract.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/push-relay/internal/model"
)

var ErrProviderNotAvailable = errors.New("provider not available")

type Outcome int

const (
	Delivered Outcome = iota
	Transient
	Permanent
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Cause narrows a permanent failure to what the dispatcher should clean up.
type Cause int

const (
	// CauseToken: the device token is unregistered or invalid.
	CauseToken Cause = iota
	// CauseTenant: the tenant's provider credentials were rejected.
	CauseTenant
	// CauseMessage: the gateway refused this message only.
	CauseMessage
)

// Result is the normalized outcome of one Send.
type Result struct {
	Outcome Outcome
	Cause   Cause
	Reason  string
	Err     error
}

func (r Result) String() string {
	if r.Outcome == Delivered {
		return "delivered"
	}
	return fmt.Sprintf("%s: %s", r.Outcome, r.Reason)
}

func delivered() Result { return Result{Outcome: Delivered} }

func transient(reason string, err error) Result {
	return Result{Outcome: Transient, Reason: reason, Err: err}
}

func permanent(cause Cause, reason string) Result {
	return Result{Outcome: Permanent, Cause: cause, Reason: reason}
}

// Provider sends one message to one registration. Implementations never
// return errors or panic out of Send; every failure becomes a Result.
type Provider interface {
	Type() model.ProviderType
	Send(ctx context.Context, reg model.ClientRegistration, msg model.PushMessage) Result
}

// GuardOptions bounds every call made through Guard.
type GuardOptions struct {
	Timeout       time.Duration
	FailThreshold int
	OpenFor       time.Duration
}

type guarded struct {
	p       Provider
	br      *Breaker
	timeout time.Duration
}

// Guard wraps p with a per-call timeout, a circuit breaker and panic recovery.
func Guard(p Provider, opts GuardOptions) Provider {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &guarded{
		p:       p,
		br:      NewBreaker(opts.FailThreshold, opts.OpenFor),
		timeout: opts.Timeout,
	}
}

func (g *guarded) Type() model.ProviderType { return g.p.Type() }

func (g *guarded) Send(ctx context.Context, reg model.ClientRegistration, msg model.PushMessage) (res Result) {
	if !g.br.Acquire() {
		return transient("circuit open", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			res = transient("provider panic", fmt.Errorf("%v", rec))
		}
		if res.Outcome == Transient {
			g.br.Failure()
		} else {
			g.br.Success()
		}
	}()

	res = g.p.Send(ctx, reg, msg)
	if res.Outcome != Delivered && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return transient("timeout", ctx.Err())
	}
	return res
}
