// Package supervisor implements the single-threaded tick loop and
// dispatcher that advance every program's FSM, route external control
// events to the FSMs they target, and broadcast state snapshots, plus
// the request/response bridge that exposes this to RPC handlers.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"overseerd/internal/fsm"
	"overseerd/internal/subscriber"
)

// tickInterval is the cadence of the periodic update, ~2Hz.
const tickInterval = 500 * time.Millisecond

// eventQueueDepth bounds the inbound command queue; a full queue causes
// the RPC handler to await space rather than the loop ever blocking on a
// producer.
const eventQueueDepth = 20

// ErrNoMatch is returned when a program expression matches no program.
var ErrNoMatch = errors.New("supervisor: no program matches expression")

// Command is one (event, program_expr, reply) tuple produced by the RPC
// surface and consumed by the tick loop.
type Command struct {
	Event fsm.Event
	Expr  string
	Reply chan Reply
}

// Reply carries the dispatcher's response to one Command.
type Reply struct {
	Results map[string]fsm.Result
	Err     error
}

// Loop owns the ordered set of ProgramFSMs and is the sole coupler
// between them and the Subscriber registry.
type Loop struct {
	log      *zap.Logger
	registry *subscriber.Registry
	metrics  snapshotObserver

	fsms   []*fsm.FSM // sorted lexicographically by name
	events chan Command
}

// snapshotObserver is satisfied by *metrics.Registry; kept as a small
// local interface so internal/supervisor does not import internal/metrics
// for a type it only ever calls one method on.
type snapshotObserver interface {
	ObserveSnapshot(subscriber.Snapshot)
}

// New constructs a Loop over fsms, which it sorts lexicographically by
// name to give tick order and snapshot order a deterministic, stable
// basis.
func New(fsms []*fsm.FSM, registry *subscriber.Registry, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	sorted := append([]*fsm.FSM(nil), fsms...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return &Loop{
		log:      log,
		registry: registry,
		fsms:     sorted,
		events:   make(chan Command, eventQueueDepth),
	}
}

// WithMetrics attaches a snapshot observer (typically *metrics.Registry)
// that is notified after every broadcast.
func (l *Loop) WithMetrics(m snapshotObserver) *Loop {
	l.metrics = m
	return l
}

// Submit enqueues cmd, blocking (subject to ctx) if the event queue is
// full. This is the only way external code reaches the FSM set.
func (l *Loop) Submit(ctx context.Context, cmd Command) error {
	select {
	case l.events <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the loop until ctx is cancelled: a periodic tick advances
// every FSM in order and broadcasts a snapshot; an inbound Command is
// dispatched to matching FSMs, replied to, and also followed by a
// broadcast. Events and ticks are strictly serialized against each other
// by virtue of being handled in one select loop.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			l.tick(now)
		case cmd := <-l.events:
			l.dispatch(cmd)
		}
	}
}

func (l *Loop) tick(now time.Time) {
	for _, f := range l.fsms {
		f.Update(now)
	}
	l.broadcast()
}

func (l *Loop) dispatch(cmd Command) {
	now := time.Now()
	var matched []*fsm.FSM
	for _, f := range l.fsms {
		if matchExpr(cmd.Expr, f.Name) {
			matched = append(matched, f)
		}
	}

	if len(matched) == 0 {
		cmd.Reply <- Reply{Err: fmt.Errorf("%w: %q", ErrNoMatch, cmd.Expr)}
		return
	}

	results := make(map[string]fsm.Result, len(matched))
	for _, f := range matched {
		results[f.Name] = f.React(cmd.Event, now)
	}
	cmd.Reply <- Reply{Results: results}
	l.broadcast()
}

func (l *Loop) broadcast() {
	snap := make(subscriber.Snapshot, 0, len(l.fsms))
	for _, f := range l.fsms {
		snap = append(snap, subscriber.ProgramState{Name: f.Name, State: f.State().String()})
	}
	l.registry.Broadcast(snap)
	if l.metrics != nil {
		l.metrics.ObserveSnapshot(snap)
	}
}
