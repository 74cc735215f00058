// Package scheduler provides the discrete-event queue every mobility,
// repositioning and sampling action runs on.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/cluster-patrol-sim/internal/logging"
	"github.com/signalsfoundry/cluster-patrol-sim/timectrl"
)

// Clock is the part of the time controller the scheduler drives.
type Clock interface {
	timectrl.SimClock
	AdvanceTo(ctx context.Context, t time.Duration) error
}

// scheduledEvent represents a single scheduled callback.
type scheduledEvent struct {
	id        string
	when      time.Duration
	seq       uint64
	f         func()
	cancelled bool
}

// before orders events by firing time, then by insertion order.
func (ev *scheduledEvent) before(other *scheduledEvent) bool {
	if ev.when != other.when {
		return ev.when < other.when
	}
	return ev.seq < other.seq
}

// EventScheduler is a single-threaded cooperative event queue. Actions run
// to completion one at a time; the clock moves to an event's firing time
// before its action is invoked and never moves during an action.
//
// Actions may call Schedule themselves, which is how recurring tasks re-arm.
// Events with the same firing time run in the order they were scheduled.
type EventScheduler struct {
	clock Clock
	log   logging.Logger
	hook  func(at time.Duration)

	mu       sync.Mutex
	counter  uint64
	events   []*scheduledEvent // ordered by (when, seq)
	index    map[string]*scheduledEvent
	executed uint64
	panics   uint64
}

// Option configures an EventScheduler.
type Option func(*EventScheduler)

// WithLogger sets the logger used to report recovered action panics.
func WithLogger(l logging.Logger) Option {
	return func(s *EventScheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithEventHook registers a callback invoked after every executed event with
// the event's firing time.
func WithEventHook(fn func(at time.Duration)) Option {
	return func(s *EventScheduler) {
		s.hook = fn
	}
}

// New creates a scheduler driving the given clock.
func New(clock Clock, opts ...Option) *EventScheduler {
	s := &EventScheduler{
		clock: clock,
		log:   logging.Noop(),
		index: make(map[string]*scheduledEvent),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the current simulation time from the underlying clock.
func (s *EventScheduler) Now() time.Duration {
	return s.clock.Now()
}

// Schedule registers f to run delay after the current simulation time.
// Negative delays are treated as zero.
func (s *EventScheduler) Schedule(delay time.Duration, f func()) (id string) {
	if delay < 0 {
		delay = 0
	}
	return s.ScheduleAt(s.clock.Now()+delay, f)
}

// ScheduleAt registers f to run at simulation time at. Times in the past are
// moved up to the current time.
func (s *EventScheduler) ScheduleAt(at time.Duration, f func()) (id string) {
	if now := s.clock.Now(); at < now {
		at = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("ev-%d", s.counter)

	ev := &scheduledEvent{
		id:   id,
		when: at,
		seq:  s.counter,
		f:    f,
	}
	s.addEventLocked(ev)
	s.index[id] = ev

	return id
}

// addEventLocked inserts an event keeping the slice ordered by (when, seq).
// Caller must hold s.mu.
func (s *EventScheduler) addEventLocked(ev *scheduledEvent) {
	idx := sort.Search(len(s.events), func(i int) bool {
		return ev.before(s.events[i])
	})

	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
}

// Cancel attempts to cancel a previously scheduled event. It is a no-op if
// the ID is unknown or the event already ran.
func (s *EventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(s.index, id)
	// Removal from s.events is lazy; popDueLocked skips cancelled events.
}

// Pending returns the number of events still waiting to fire.
func (s *EventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Executed returns the number of actions run so far.
func (s *EventScheduler) Executed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executed
}

// Panics returns the number of actions that panicked and were recovered.
func (s *EventScheduler) Panics() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panics
}

// popDueLocked removes and returns the earliest live event firing at or
// before until, or nil. Caller must hold s.mu.
func (s *EventScheduler) popDueLocked(until time.Duration) *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when > until {
			return nil
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)
		return ev
	}
	return nil
}

// Advance runs every event firing at or before until, in order, then moves
// the clock to until. Events past the horizon stay queued, so Advance can be
// called repeatedly to step through a run.
func (s *EventScheduler) Advance(ctx context.Context, until time.Duration) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		ev := s.popDueLocked(until)
		s.mu.Unlock()
		if ev == nil {
			break
		}

		if err := s.clock.AdvanceTo(ctx, ev.when); err != nil {
			// Put the event back so a later Advance can still fire it.
			s.mu.Lock()
			s.addEventLocked(ev)
			s.index[ev.id] = ev
			s.mu.Unlock()
			return err
		}

		s.execute(ctx, ev)
	}
	return s.clock.AdvanceTo(ctx, until)
}

// Run executes the simulation up to the horizon until and discards whatever
// is still queued afterwards. Running out of events early is not an error.
func (s *EventScheduler) Run(ctx context.Context, until time.Duration) error {
	if err := s.Advance(ctx, until); err != nil {
		return err
	}
	if dropped := s.Clear(); dropped > 0 {
		s.log.Debug(ctx, "discarded events past horizon",
			logging.Int("count", dropped),
			logging.Duration("horizon", until),
		)
	}
	return nil
}

// Clear drops every queued event and returns how many were pending.
func (s *EventScheduler) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.index)
	s.events = nil
	s.index = make(map[string]*scheduledEvent)
	return n
}

// execute runs a single action. A panicking action is logged and counted so
// one bad event never aborts the rest of the run.
func (s *EventScheduler) execute(ctx context.Context, ev *scheduledEvent) {
	defer func() {
		r := recover()

		s.mu.Lock()
		s.executed++
		if r != nil {
			s.panics++
		}
		s.mu.Unlock()

		if r != nil {
			s.log.Error(ctx, "scheduled action panicked",
				logging.String("event_id", ev.id),
				logging.Duration("sim_time", ev.when),
				logging.Any("panic", r),
			)
		}
		if s.hook != nil {
			s.hook(ev.when)
		}
	}()

	if ev.f != nil {
		ev.f()
	}
}
