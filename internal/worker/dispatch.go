package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jmehdipour/push-relay/internal/dispatcher"
	"github.com/jmehdipour/push-relay/internal/kafka"
	"github.com/jmehdipour/push-relay/internal/model"
	"go.uber.org/zap"
)

// Source is the consuming side of the echo topic.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// Dispatcher runs one envelope to a terminal state.
type Dispatcher interface {
	DispatchJob(ctx context.Context, jobID, tenantID, clientID string, msg model.PushMessage) dispatcher.JobResult
}

// DispatchKafka:
// - fetches envelopes from Kafka,
// - runs each through the dispatch engine,
// - commits a partition's offset once every earlier job on it is terminal.
//
// A job canceled by shutdown is never completed, so its partition stops
// committing and the envelope is redelivered to the next consumer.
type DispatchKafka struct {
	Consumer Source
	Dispatch Dispatcher
	Log      *zap.Logger

	Workers    int           // number of goroutines processing messages
	JobTimeout time.Duration // upper bound for one job including retries

	offsets   *offsetTracker
	commitMu  sync.Mutex
	committed map[int]int64
}

func NewDispatchKafka(consumer Source, d Dispatcher, log *zap.Logger) *DispatchKafka {
	if log == nil {
		log = zap.NewNop()
	}
	return &DispatchKafka{
		Consumer:   consumer,
		Dispatch:   d,
		Log:        log,
		Workers:    64,
		JobTimeout: time.Minute,
		offsets:    newOffsetTracker(),
		committed:  make(map[int]int64),
	}
}

// Run starts the worker and blocks until ctx is cancelled and in-flight jobs
// have finished.
func (w *DispatchKafka) Run(ctx context.Context) error {
	if w.Workers <= 0 {
		w.Workers = 64
	}
	if w.JobTimeout <= 0 {
		w.JobTimeout = time.Minute
	}

	msgCh := make(chan kafka.Message, w.Workers*2)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			m, err := w.Consumer.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.Log.Warn("kafka fetch failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(200 * time.Millisecond):
				}
				continue
			}
			w.offsets.track(m)
			select {
			case msgCh <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for range w.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range msgCh {
				w.processOne(ctx, m)
			}
		}()
	}
	wg.Wait()
	return nil
}

func (w *DispatchKafka) processOne(ctx context.Context, m kafka.Message) {
	var env model.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil || env.TenantID == "" || env.ClientID == "" {
		w.Log.Warn("dropping malformed envelope",
			zap.Int64("offset", m.Offset),
			zap.Int("partition", m.Partition),
			zap.Error(err),
		)
		w.ack(ctx, m) // poison: commit and skip
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.JobTimeout)
	res := w.Dispatch.DispatchJob(jobCtx, env.JobID, env.TenantID, env.ClientID, env.Message)
	cancel()

	if res.Reason == dispatcher.ReasonCanceled && ctx.Err() != nil {
		// shutting down: leave the offset so another instance picks it up
		return
	}
	w.ack(ctx, m)
}

func (w *DispatchKafka) ack(ctx context.Context, m kafka.Message) {
	target, ok := w.offsets.complete(m)
	if !ok {
		return
	}

	w.commitMu.Lock()
	defer w.commitMu.Unlock()
	if last, seen := w.committed[target.Partition]; seen && target.Offset <= last {
		return
	}

	// commit must survive shutdown of the fetch context
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.Consumer.Commit(cctx, target); err != nil {
		w.Log.Error("kafka commit failed",
			zap.Int("partition", target.Partition),
			zap.Int64("offset", target.Offset),
			zap.Error(err),
		)
		return
	}
	w.committed[target.Partition] = target.Offset
}
