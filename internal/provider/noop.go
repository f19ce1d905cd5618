package provider

import (
	"context"
	"sync"

	"github.com/jmehdipour/push-relay/internal/model"
)

// Noop accepts everything and remembers what it was asked to send.
// Only wired in dev and test environments.
type Noop struct {
	mu   sync.Mutex
	sent map[string][]model.PushMessage

	// Script, when set, decides the outcome per call.
	Script func(reg model.ClientRegistration, msg model.PushMessage) Result
}

func NewNoop() *Noop {
	return &Noop{sent: make(map[string][]model.PushMessage)}
}

func (n *Noop) Type() model.ProviderType { return model.ProviderNoop }

func (n *Noop) Send(_ context.Context, reg model.ClientRegistration, msg model.PushMessage) Result {
	n.mu.Lock()
	n.sent[reg.PushToken] = append(n.sent[reg.PushToken], msg)
	script := n.Script
	n.mu.Unlock()

	if script != nil {
		return script(reg, msg)
	}
	return delivered()
}

// Sent returns the messages delivered to token, oldest first.
func (n *Noop) Sent(token string) []model.PushMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.PushMessage(nil), n.sent[token]...)
}

func (n *Noop) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, msgs := range n.sent {
		c += len(msgs)
	}
	return c
}
