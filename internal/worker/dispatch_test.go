package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/push-relay/internal/dispatcher"
	"github.com/jmehdipour/push-relay/internal/kafka"
	"github.com/jmehdipour/push-relay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSource struct {
	in        chan kafka.Message
	mu        sync.Mutex
	committed []int64
}

func (s *chanSource) Fetch(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-s.in:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (s *chanSource) Commit(_ context.Context, m kafka.Message) error {
	s.mu.Lock()
	s.committed = append(s.committed, m.Offset)
	s.mu.Unlock()
	return nil
}

func (s *chanSource) commits() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.committed...)
}

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []string
}

func (d *recordingDispatcher) DispatchJob(_ context.Context, jobID, _, _ string, _ model.PushMessage) dispatcher.JobResult {
	d.mu.Lock()
	d.jobs = append(d.jobs, jobID)
	d.mu.Unlock()
	return dispatcher.JobResult{ID: jobID, State: dispatcher.StateDelivered}
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

func envelope(t *testing.T, jobID string) []byte {
	t.Helper()
	b, err := json.Marshal(model.Envelope{JobID: jobID, TenantID: "t", ClientID: "c", Message: model.PushMessage{ID: jobID}})
	require.NoError(t, err)
	return b
}

func TestDispatchKafka_ProcessesAndCommits(t *testing.T) {
	src := &chanSource{in: make(chan kafka.Message, 4)}
	d := &recordingDispatcher{}
	w := NewDispatchKafka(src, d, nil)
	w.Workers = 2

	src.in <- kafka.Message{Offset: 1, Value: envelope(t, "j1")}
	src.in <- kafka.Message{Offset: 2, Value: []byte("{not json")}
	src.in <- kafka.Message{Offset: 3, Value: envelope(t, "j3")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		c := src.commits()
		return len(c) > 0 && c[len(c)-1] == 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 2, d.count(), "poison message is skipped")
	assert.IsIncreasing(t, src.commits())
}

// blockingDispatcher holds the job named slow until its context ends.
type blockingDispatcher struct {
	recordingDispatcher
}

func (d *blockingDispatcher) DispatchJob(ctx context.Context, jobID, tenantID, clientID string, msg model.PushMessage) dispatcher.JobResult {
	res := d.recordingDispatcher.DispatchJob(ctx, jobID, tenantID, clientID, msg)
	if jobID == "slow" {
		<-ctx.Done()
		return dispatcher.JobResult{ID: jobID, State: dispatcher.StateFailed, Reason: dispatcher.ReasonCanceled}
	}
	return res
}

func TestDispatchKafka_ShutdownKeepsUnfinishedOffset(t *testing.T) {
	src := &chanSource{in: make(chan kafka.Message, 4)}
	d := &blockingDispatcher{}
	w := NewDispatchKafka(src, d, nil)
	w.Workers = 2

	src.in <- kafka.Message{Partition: 0, Offset: 1, Value: envelope(t, "slow")}
	src.in <- kafka.Message{Partition: 0, Offset: 2, Value: envelope(t, "fast")}
	src.in <- kafka.Message{Partition: 1, Offset: 7, Value: envelope(t, "other")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// the other partition is unaffected
	require.Eventually(t, func() bool {
		c := src.commits()
		return d.count() == 3 && len(c) == 1 && c[0] == 7
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{7}, src.commits(), "offset 2 must not cover the canceled offset 1")
}

func TestOffsetTracker_Watermark(t *testing.T) {
	tr := newOffsetTracker()
	for _, m := range []kafka.Message{
		{Partition: 0, Offset: 1},
		{Partition: 0, Offset: 2},
		{Partition: 0, Offset: 5},
		{Partition: 1, Offset: 10},
	} {
		tr.track(m)
	}

	_, ok := tr.complete(kafka.Message{Partition: 0, Offset: 2})
	assert.False(t, ok)

	got, ok := tr.complete(kafka.Message{Partition: 0, Offset: 1})
	require.True(t, ok)
	assert.Equal(t, int64(2), got.Offset)

	got, ok = tr.complete(kafka.Message{Partition: 1, Offset: 10})
	require.True(t, ok)
	assert.Equal(t, int64(10), got.Offset)

	got, ok = tr.complete(kafka.Message{Partition: 0, Offset: 5})
	require.True(t, ok)
	assert.Equal(t, int64(5), got.Offset)

	_, ok = tr.complete(kafka.Message{Partition: 3, Offset: 1})
	assert.False(t, ok, "untracked partition")
}

type failingSource struct {
	calls int
	mu    sync.Mutex
}

func (s *failingSource) Fetch(ctx context.Context) (kafka.Message, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if ctx.Err() != nil {
		return kafka.Message{}, ctx.Err()
	}
	return kafka.Message{}, errors.New("broker unreachable")
}

func (s *failingSource) Commit(context.Context, kafka.Message) error { return nil }

func TestDispatchKafka_StopsOnCancelDespiteFetchErrors(t *testing.T) {
	src := &failingSource{}
	w := NewDispatchKafka(src, &recordingDispatcher{}, nil)
	w.Workers = 1

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.GreaterOrEqual(t, src.calls, 1)
}
