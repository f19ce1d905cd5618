package worker

import (
	"sync"

	"github.com/jmehdipour/push-relay/internal/kafka"
)

// offsetTracker finds, per partition, the newest message whose predecessors
// have all completed. Committing only that message keeps an unfinished job
// from being covered by a later commit.
type offsetTracker struct {
	mu    sync.Mutex
	parts map[int]*partitionOffsets
}

type partitionOffsets struct {
	inflight []int64 // fetch order
	done     map[int64]kafka.Message
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: make(map[int]*partitionOffsets)}
}

// track must be called in fetch order.
func (t *offsetTracker) track(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.parts[m.Partition]
	if p == nil {
		p = &partitionOffsets{done: make(map[int64]kafka.Message)}
		t.parts[m.Partition] = p
	}
	p.inflight = append(p.inflight, m.Offset)
}

// complete marks m finished and returns the message to commit, if the
// partition watermark moved.
func (t *offsetTracker) complete(m kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.parts[m.Partition]
	if p == nil {
		return kafka.Message{}, false
	}
	p.done[m.Offset] = m

	var (
		last  kafka.Message
		moved bool
	)
	for len(p.inflight) > 0 {
		head, ok := p.done[p.inflight[0]]
		if !ok {
			break
		}
		delete(p.done, head.Offset)
		p.inflight = p.inflight[1:]
		last, moved = head, true
	}
	return last, moved
}
