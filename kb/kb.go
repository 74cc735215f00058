package kb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/cluster-patrol-sim/model"
)

var (
	// ErrNodeNotFound is returned for IDs the registry has never seen.
	ErrNodeNotFound = errors.New("node not found")
	// ErrNoMobility is returned when a node has no mobility capability
	// attached, so its position cannot be read.
	ErrNoMobility = errors.New("node has no mobility capability")
)

// Mobility is the capability a node needs for its position to be queried.
type Mobility interface {
	Position() model.Vector
	Velocity() model.Vector
}

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventNodeAdded EventType = iota
	EventMobilityAttached
	EventCourseChanged
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type     EventType
	Node     model.Node
	Position model.Vector
	Velocity model.Vector
}

// KnowledgeBase is the in-memory node registry. It also serves as the
// position provider: positions are read from the attached mobility
// capability at the moment of the query.
type KnowledgeBase struct {
	mu sync.RWMutex

	nodes    map[string]*model.Node
	order    []string
	mobility map[string]Mobility

	subs    []subscription
	nextSub uint64
}

type subscription struct {
	id uint64
	fn func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		nodes:    make(map[string]*model.Node),
		mobility: make(map[string]Mobility),
	}
}

// AddNode registers a new node. It returns an error if the ID is empty or
// already exists.
func (kb *KnowledgeBase) AddNode(n *model.Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("node must have a non-empty ID")
	}

	kb.mu.Lock()
	if _, exists := kb.nodes[n.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("node with ID %q already exists", n.ID)
	}
	kb.nodes[n.ID] = n
	kb.order = append(kb.order, n.ID)
	subs := kb.subscribersLocked()
	event := Event{Type: EventNodeAdded, Node: *n}
	kb.mu.Unlock()

	notify(subs, event)
	return nil
}

// AttachMobility sets (or replaces) the mobility capability of a node.
func (kb *KnowledgeBase) AttachMobility(id string, m Mobility) error {
	kb.mu.Lock()
	n, ok := kb.nodes[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("attach mobility to %q: %w", id, ErrNodeNotFound)
	}
	if m == nil {
		delete(kb.mobility, id)
		kb.mu.Unlock()
		return nil
	}
	kb.mobility[id] = m
	subs := kb.subscribersLocked()
	event := Event{Type: EventMobilityAttached, Node: *n}
	kb.mu.Unlock()

	notify(subs, event)
	return nil
}

// GetNode returns the node with the given ID, or nil if not found.
func (kb *KnowledgeBase) GetNode(id string) *model.Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.nodes[id]
}

// Mobility returns the mobility capability attached to a node.
func (kb *KnowledgeBase) Mobility(id string) (Mobility, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	if _, ok := kb.nodes[id]; !ok {
		return nil, fmt.Errorf("node %q: %w", id, ErrNodeNotFound)
	}
	m, ok := kb.mobility[id]
	if !ok {
		return nil, fmt.Errorf("node %q: %w", id, ErrNoMobility)
	}
	return m, nil
}

// Position returns the current position of a node.
func (kb *KnowledgeBase) Position(id string) (model.Vector, error) {
	m, err := kb.Mobility(id)
	if err != nil {
		return model.Vector{}, err
	}
	return m.Position(), nil
}

// Velocity returns the current velocity of a node.
func (kb *KnowledgeBase) Velocity(id string) (model.Vector, error) {
	m, err := kb.Mobility(id)
	if err != nil {
		return model.Vector{}, err
	}
	return m.Velocity(), nil
}

// ListNodes returns a snapshot of all nodes in registration order.
func (kb *KnowledgeBase) ListNodes() []*model.Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.Node, 0, len(kb.order))
	for _, id := range kb.order {
		res = append(res, kb.nodes[id])
	}
	return res
}

// NodesByRole returns nodes with the given role in registration order.
func (kb *KnowledgeBase) NodesByRole(role model.Role) []*model.Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	var res []*model.Node
	for _, id := range kb.order {
		if n := kb.nodes[id]; n.Role == role {
			res = append(res, n)
		}
	}
	return res
}

// PublishCourseChange notifies subscribers that a node changed position or
// heading. Mobility models call this through their course-change listeners.
func (kb *KnowledgeBase) PublishCourseChange(id string, pos, vel model.Vector) error {
	kb.mu.RLock()
	n, ok := kb.nodes[id]
	if !ok {
		kb.mu.RUnlock()
		return fmt.Errorf("course change for %q: %w", id, ErrNodeNotFound)
	}
	event := Event{
		Type:     EventCourseChanged,
		Node:     *n, // copy for safety
		Position: pos,
		Velocity: vel,
	}
	subs := kb.subscribersLocked()
	kb.mu.RUnlock()

	notify(subs, event)
	return nil
}

// Subscribe registers a callback for KB events. Callbacks run in
// subscription order. The returned function removes this callback only and
// is safe to call more than once.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.nextSub++
	id := kb.nextSub
	kb.subs = append(kb.subs, subscription{id: id, fn: fn})

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		for i, sub := range kb.subs {
			if sub.id == id {
				kb.subs = append(kb.subs[:i], kb.subs[i+1:]...)
				return
			}
		}
	}
}

// subscribersLocked copies the callbacks; kb.mu must be held.
func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	fns := make([]func(Event), len(kb.subs))
	for i, sub := range kb.subs {
		fns[i] = sub.fn
	}
	return fns
}

// Subscribers are called outside the lock to avoid deadlocks.
func notify(subs []func(Event), event Event) {
	for _, sub := range subs {
		sub(event)
	}
}
