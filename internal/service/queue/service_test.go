package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jmehdipour/push-relay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	keys   []string
	values [][]byte
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, key, value []byte) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, string(key))
	p.values = append(p.values, value)
	return nil
}

func TestEnqueue_PublishesEnvelope(t *testing.T) {
	pub := &recordingPublisher{}
	svc := New(pub)

	msg := model.PushMessage{ID: "m1", Payload: model.MessagePayload{Topic: "chat", Flags: 1, Blob: "YQ=="}}
	jobID, err := svc.Enqueue(context.Background(), "tenant", "client", msg)
	require.NoError(t, err)
	require.Len(t, pub.values, 1)
	assert.Equal(t, "tenant/client", pub.keys[0])

	var env model.Envelope
	require.NoError(t, json.Unmarshal(pub.values[0], &env))
	assert.Equal(t, jobID, env.JobID)
	assert.Equal(t, "tenant", env.TenantID)
	assert.Equal(t, "client", env.ClientID)
	assert.Equal(t, msg, env.Message)
}

func TestEnqueue_PublishFailure(t *testing.T) {
	svc := New(&recordingPublisher{err: errors.New("broker down")})
	_, err := svc.Enqueue(context.Background(), "t", "c", model.PushMessage{ID: "m"})
	require.ErrorIs(t, err, ErrPublish)
}
