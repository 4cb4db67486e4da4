package sockline

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/amir-yaghoubi/mqttpattern"
)

// Subscription is the handle returned by Subscribe. It is the only way to
// remove a registration; two subscriptions of the same handler to the same
// event type are independent.
type Subscription struct {
	id        uint64
	eventType string
	handler   Handler
	match     matcher
	manager   *Manager

	active atomic.Bool
	// held by the dispatcher while it checks active and runs the handler
	mu sync.Mutex
}

// EventType returns the event type (or pattern) the subscription was registered for.
func (s *Subscription) EventType() string {
	return s.eventType
}

// Active reports whether the subscription is still registered.
func (s *Subscription) Active() bool {
	return s != nil && s.active.Load()
}

// Unsubscribe removes the subscription from its manager. Safe to call more
// than once and from inside a handler.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.manager == nil {
		return
	}
	s.manager.Unsubscribe(s)
}

type matcher func(eventType string) bool

func isPattern(eventType string) bool {
	return strings.ContainsAny(eventType, "+#")
}

// makeMatcher returns an exact matcher for plain names and an MQTT-style
// matcher for names containing + or #. Patterns never match lifecycle events,
// and as in MQTT a leading wildcard does not match names starting with $.
func makeMatcher(eventType string) matcher {
	if !isPattern(eventType) {
		return func(candidate string) bool {
			return candidate == eventType
		}
	}

	return func(candidate string) bool {
		if IsReservedEvent(candidate) {
			return false
		}
		if strings.HasPrefix(candidate, "$") && !strings.HasPrefix(eventType, "$") {
			return false
		}
		return mqttpattern.Matches(eventType, candidate)
	}
}

// dispatchTable holds registrations. Exact subscriptions are indexed by
// event type; patterns are scanned. Both lists stay sorted by id, which is
// the registration order.
type dispatchTable struct {
	mu       sync.Mutex
	exact    map[string][]*Subscription
	patterns []*Subscription
	count    int
	lastID   uint64
}

func newDispatchTable() *dispatchTable {
	return &dispatchTable{
		exact: make(map[string][]*Subscription),
	}
}

// add assigns the subscription its id and returns the new count.
func (t *dispatchTable) add(sub *Subscription) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastID++
	sub.id = t.lastID

	if isPattern(sub.eventType) {
		t.patterns = append(t.patterns, sub)
	} else {
		t.exact[sub.eventType] = append(t.exact[sub.eventType], sub)
	}
	t.count++
	return t.count
}

// remove deletes sub and returns the remaining count, or -1 if sub was not present.
func (t *dispatchTable) remove(sub *Subscription) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if isPattern(sub.eventType) {
		var ok bool
		if t.patterns, ok = removeSubscription(t.patterns, sub); !ok {
			return -1
		}
	} else {
		subs, ok := removeSubscription(t.exact[sub.eventType], sub)
		if !ok {
			return -1
		}
		if len(subs) == 0 {
			delete(t.exact, sub.eventType)
		} else {
			t.exact[sub.eventType] = subs
		}
	}
	t.count--
	return t.count
}

// removeSubscription returns a new slice so snapshots handed to the
// dispatcher are never modified.
func removeSubscription(subs []*Subscription, sub *Subscription) ([]*Subscription, bool) {
	for i, candidate := range subs {
		if candidate == sub {
			out := make([]*Subscription, 0, len(subs)-1)
			out = append(out, subs[:i]...)
			return append(out, subs[i+1:]...), true
		}
	}
	return subs, false
}

// matching returns a snapshot of the subscriptions for eventType in
// registration order.
func (t *dispatchTable) matching(eventType string) []*Subscription {
	t.mu.Lock()
	exact := t.exact[eventType]
	var patterned []*Subscription
	for _, sub := range t.patterns {
		if sub.match(eventType) {
			patterned = append(patterned, sub)
		}
	}
	t.mu.Unlock()

	if len(patterned) == 0 {
		return exact
	}
	if len(exact) == 0 {
		return patterned
	}

	merged := make([]*Subscription, 0, len(exact)+len(patterned))
	i, j := 0, 0
	for i < len(exact) && j < len(patterned) {
		if exact[i].id < patterned[j].id {
			merged = append(merged, exact[i])
			i++
		} else {
			merged = append(merged, patterned[j])
			j++
		}
	}
	merged = append(merged, exact[i:]...)
	return append(merged, patterned[j:]...)
}

func (t *dispatchTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
