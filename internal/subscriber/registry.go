// Package subscriber implements the subscription fan-out registry: a
// shared, read-mostly map from subscriber id to a bounded outbound queue
// of state snapshots.
package subscriber

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Snapshot is a point-in-time mapping from program name to state tag,
// produced by the tick loop after every tick and every event dispatch.
type Snapshot []ProgramState

// ProgramState is one {name, state} pair within a Snapshot.
type ProgramState struct {
	Name  string
	State string
}

// outboundQueueDepth bounds each subscriber's snapshot channel so a slow
// or disconnected client cannot make the tick loop block.
const outboundQueueDepth = 8

// Subscriber is a stream identity with a bounded outbound queue, created
// when a status-stream RPC is accepted and destroyed when the client
// disconnects or a send to it fails.
type Subscriber struct {
	ID string
	ch chan Snapshot
}

// Recv returns the channel a subscriber's RPC handler should range over
// to forward snapshots to the client.
func (s *Subscriber) Recv() <-chan Snapshot { return s.ch }

// Registry is the shared registry between the tick loop (the sole
// broadcaster) and RPC handlers (which register/unregister). A
// multiple-reader/single-writer discipline protects it.
type Registry struct {
	log *zap.Logger

	mu     sync.RWMutex
	subs   map[string]*Subscriber
	latest Snapshot
}

// New constructs an empty Registry. log may be nil.
func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{log: log, subs: make(map[string]*Subscriber)}
}

// Register creates and adds a new Subscriber with a fresh id, and
// immediately offers it the most recently broadcast snapshot so a client
// sees state as soon as it subscribes rather than waiting for the next
// tick.
func (r *Registry) Register() *Subscriber {
	s := &Subscriber{ID: uuid.NewString(), ch: make(chan Snapshot, outboundQueueDepth)}
	r.mu.Lock()
	r.subs[s.ID] = s
	latest := r.latest
	r.mu.Unlock()

	if latest != nil {
		s.ch <- latest
	}
	return s
}

// Unregister removes a Subscriber, e.g. once its RPC handler observes the
// client disconnecting.
func (r *Registry) Unregister(s *Subscriber) {
	r.mu.Lock()
	delete(r.subs, s.ID)
	r.mu.Unlock()
}

// Broadcast sends snap to every registered subscriber. A subscriber whose
// queue is full (slow or disconnected consumer) is logged and dropped;
// the tick loop never blocks on a slow client.
func (r *Registry) Broadcast(snap Snapshot) {
	r.mu.Lock()
	r.latest = snap
	targets := make([]*Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		targets = append(targets, s)
	}
	r.mu.Unlock()

	var dead []*Subscriber
	for _, s := range targets {
		select {
		case s.ch <- snap:
		default:
			r.log.Warn("dropping slow subscriber", zap.String("subscriber", s.ID))
			dead = append(dead, s)
		}
	}
	if len(dead) == 0 {
		return
	}
	r.mu.Lock()
	for _, s := range dead {
		delete(r.subs, s.ID)
	}
	r.mu.Unlock()
}

// Count returns the number of currently registered subscribers; mainly
// useful for tests and metrics.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
