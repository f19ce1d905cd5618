package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmehdipour/push-relay/internal/metrics"
	"github.com/jmehdipour/push-relay/internal/model"
	"github.com/jmehdipour/push-relay/internal/provider"
	"github.com/jmehdipour/push-relay/internal/repository"
	"github.com/jmehdipour/push-relay/internal/util"
	"go.uber.org/zap"
)

type State string

const (
	StatePending    State = "pending"
	StateAttempting State = "attempting"
	StateRetrying   State = "retrying"
	StateDelivered  State = "delivered"
	StateDuplicate  State = "duplicate"
	StateFailed     State = "failed"
)

type Reason string

const (
	ReasonNone                Reason = ""
	ReasonUnknownClient       Reason = "unknown_client"
	ReasonExhausted           Reason = "exhausted"
	ReasonPermanentFailure    Reason = "permanent_failure"
	ReasonRejected            Reason = "rejected"
	ReasonTenantSuspended     Reason = "tenant_suspended"
	ReasonProviderUnavailable Reason = "provider_unavailable"
	ReasonStorageUnavailable  Reason = "storage_unavailable"
	ReasonCanceled            Reason = "canceled"
)

// JobResult is the terminal state of one dispatch job.
type JobResult struct {
	ID       string
	State    State
	Reason   Reason
	Attempts int
	LastErr  string
}

type Config struct {
	MaxAttempts     int           // provider calls per job, e.g. 5
	InitialInterval time.Duration // first backoff, e.g. 200ms
	MaxInterval     time.Duration // backoff cap, e.g. 10s
	Multiplier      float64
}

// Registry is the part of the client registry the engine needs.
type Registry interface {
	Lookup(ctx context.Context, tenantID, clientID string) (model.ClientRegistration, error)
	Remove(ctx context.Context, tenantID, clientID string) error
}

type Resolver interface {
	Resolve(ctx context.Context, tenant *model.Tenant, pt model.ProviderType) (provider.Provider, error)
}

type Dispatcher struct {
	cfg      Config
	registry Registry
	resolver Resolver
	tenants  repository.TenantsRepository
	seen     repository.NotificationsRepository
	log      *zap.Logger
}

// New builds a Dispatcher. tenants and seen may be nil: without tenants only
// global providers are used, without seen messages are not deduplicated.
func New(cfg Config, reg Registry, res Resolver, tenants repository.TenantsRepository, seen repository.NotificationsRepository, log *zap.Logger) *Dispatcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{cfg: cfg, registry: reg, resolver: res, tenants: tenants, seen: seen, log: log}
}

func (d *Dispatcher) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialInterval
	b.MaxInterval = d.cfg.MaxInterval
	b.Multiplier = d.cfg.Multiplier
	b.MaxElapsedTime = 0 // attempts bound the job, not wall time
	b.Reset()
	return b
}

// Dispatch runs one job to a terminal state. It never holds a lock across a
// provider call; distinct jobs may run concurrently.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID, clientID string, msg model.PushMessage) JobResult {
	return d.DispatchJob(ctx, util.NewID(), tenantID, clientID, msg)
}

// DispatchJob is Dispatch with a caller supplied job id (async envelopes).
func (d *Dispatcher) DispatchJob(ctx context.Context, jobID, tenantID, clientID string, msg model.PushMessage) JobResult {
	res := JobResult{ID: jobID, State: StatePending}
	log := d.log.With(zap.String("job_id", jobID), zap.String("tenant_id", tenantID), zap.String("client_id", clientID))

	marked := false
	finish := func(state State, reason Reason, err error) JobResult {
		res.State, res.Reason = state, reason
		if err != nil {
			res.LastErr = err.Error()
		}
		if marked && retryable(reason) {
			d.forget(ctx, tenantID, clientID, msg.ID, log)
		}
		metrics.DispatchJobs.WithLabelValues(string(state), string(reason)).Inc()
		log.Info("dispatch finished",
			zap.String("state", string(state)),
			zap.String("reason", string(reason)),
			zap.Int("attempts", res.Attempts),
			zap.String("last_err", res.LastErr),
		)
		return res
	}

	bo := d.newBackOff()
	for {
		// tenant and registration are re-read on every attempt
		tenant, err := d.loadTenant(ctx, tenantID)
		if err != nil {
			return finish(StateFailed, ReasonStorageUnavailable, err)
		}
		if tenant != nil && tenant.Suspended {
			return finish(StateFailed, ReasonTenantSuspended, nil)
		}

		reg, err := d.registry.Lookup(ctx, tenantID, clientID)
		if errors.Is(err, repository.ErrNotFound) {
			return finish(StateFailed, ReasonUnknownClient, nil)
		}
		if err != nil {
			return finish(StateFailed, ReasonStorageUnavailable, err)
		}
		clientID = reg.ClientID

		if !marked && d.seen != nil && msg.ID != "" {
			first, err := d.seen.MarkReceived(ctx, tenantID, reg.ClientID, msg.ID)
			if err != nil {
				return finish(StateFailed, ReasonStorageUnavailable, err)
			}
			if !first {
				return finish(StateDuplicate, ReasonNone, nil)
			}
			marked = true
		}

		p, err := d.resolver.Resolve(ctx, tenant, reg.ProviderType)
		if err != nil {
			return finish(StateFailed, ReasonProviderUnavailable, err)
		}

		res.State = StateAttempting
		res.Attempts++
		out := p.Send(ctx, reg, msg)
		metrics.DispatchAttempts.WithLabelValues(reg.ProviderType.String(), out.Outcome.String()).Inc()
		if out.Outcome != provider.Delivered {
			res.LastErr = out.String()
		}

		switch out.Outcome {
		case provider.Delivered:
			return finish(StateDelivered, ReasonNone, nil)

		case provider.Permanent:
			return d.onPermanent(ctx, tenantID, reg, out, log, finish)

		default:
			if res.Attempts >= d.cfg.MaxAttempts {
				return finish(StateFailed, ReasonExhausted, nil)
			}
			res.State = StateRetrying
			wait := bo.NextBackOff()
			log.Debug("provider transient failure, retrying",
				zap.Int("attempt", res.Attempts),
				zap.Duration("backoff", wait),
				zap.String("reason", out.Reason),
			)
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return finish(StateFailed, ReasonCanceled, ctx.Err())
			case <-t.C:
			}
		}
	}
}

func (d *Dispatcher) onPermanent(
	ctx context.Context,
	tenantID string,
	reg model.ClientRegistration,
	out provider.Result,
	log *zap.Logger,
	finish func(State, Reason, error) JobResult,
) JobResult {
	switch out.Cause {
	case provider.CauseTenant:
		if d.tenants != nil {
			if err := d.tenants.Suspend(ctx, tenantID, out.Reason); err != nil && !errors.Is(err, repository.ErrNotFound) {
				log.Error("suspend tenant failed", zap.Error(err))
			} else if err == nil {
				metrics.TenantSuspensions.Inc()
				log.Warn("tenant suspended", zap.String("reason", out.Reason))
			}
		}
		return finish(StateFailed, ReasonTenantSuspended, nil)

	case provider.CauseMessage:
		return finish(StateFailed, ReasonRejected, nil)

	default:
		err := d.registry.Remove(ctx, tenantID, reg.ClientID)
		switch {
		case err == nil:
			metrics.ClientsRemoved.WithLabelValues("bad_token").Inc()
		case errors.Is(err, repository.ErrNotFound):
			// removed concurrently
		default:
			log.Error("remove client after permanent failure", zap.Error(err))
			return finish(StateFailed, ReasonStorageUnavailable, err)
		}
		return finish(StateFailed, ReasonPermanentFailure, nil)
	}
}

// retryable reports whether a job ending with reason left the message
// undelivered and may be submitted again with the same id.
func retryable(reason Reason) bool {
	switch reason {
	case ReasonCanceled, ReasonStorageUnavailable, ReasonProviderUnavailable, ReasonTenantSuspended:
		return true
	}
	return false
}

// forget runs even when the job context is done.
func (d *Dispatcher) forget(ctx context.Context, tenantID, clientID, id string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.seen.Forget(ctx, tenantID, clientID, id); err != nil {
		log.Warn("forget message id failed", zap.String("message_id", id), zap.Error(err))
	}
}

func (d *Dispatcher) loadTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	if d.tenants == nil {
		return nil, nil
	}
	t, err := d.tenants.Get(ctx, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
