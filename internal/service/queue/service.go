// Package queue hands echo triggers to the async dispatch worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmehdipour/push-relay/internal/model"
	"github.com/jmehdipour/push-relay/internal/util"
)

var ErrPublish = errors.New("enqueue failed")

// Publisher is satisfied by kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

type Service struct {
	pub Publisher
}

func New(pub Publisher) *Service {
	return &Service{pub: pub}
}

// Enqueue wraps msg in an envelope keyed by tenant and client, so triggers for
// one client stay ordered, and publishes it. Returns the job id.
func (s *Service) Enqueue(ctx context.Context, tenantID, clientID string, msg model.PushMessage) (string, error) {
	env := model.Envelope{
		JobID:    util.NewID(),
		TenantID: tenantID,
		ClientID: clientID,
		Message:  msg,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	if err := s.pub.Publish(ctx, []byte(tenantID+"/"+clientID), payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublish, err)
	}
	return env.JobID, nil
}
