// Package subscription fans the committed change stream out to independent
// table and record subscriptions.
//
// Every subscription owns a bounded queue fed by the hub and a goroutine
// that deduplicates by sequence number and hands events to the consumer.
// A subscription whose queue is full is closed rather than stalling the
// writer or other subscribers.
//
// A client that needs the current state of a record reads it first and
// subscribes afterwards. Events committed between the two calls are not
// delivered.
package subscription

import (
	"sync"

	"github.com/koustreak/recordbase/internal/changes"
	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/logger"
	"github.com/koustreak/recordbase/internal/record"
)

// DefaultQueueSize is the per-subscription queue capacity.
const DefaultQueueSize = 256

var (
	// ErrSlowConsumer closes a subscription whose queue overflowed.
	ErrSlowConsumer = errs.New(errs.ErrKindStoreUnavailable, "slow consumer")

	// ErrShutdown closes every subscription when the hub shuts down.
	ErrShutdown = errs.New(errs.ErrKindStoreUnavailable, "server shutting down")
)

// Scope selects the events a subscription receives. A zero Column selects
// every row of Table; otherwise only rows whose Column equals Key.
type Scope struct {
	Table  string
	Column string
	Key    record.Value
}

// TableScope subscribes to every row of table.
func TableScope(table string) Scope { return Scope{Table: table} }

// RecordScope subscribes to the row of table whose pk column equals key.
func RecordScope(table, pk string, key record.Value) Scope {
	return Scope{Table: table, Column: pk, Key: key}
}

// IsRecord reports whether s selects a single row.
func (s Scope) IsRecord() bool { return s.Column != "" }

func (s Scope) matches(ev changes.Event) bool {
	if ev.Table != s.Table {
		return false
	}
	if !s.IsRecord() {
		return true
	}
	if ev.Row == nil {
		return false
	}
	v, ok := ev.Row.Get(s.Column)
	return ok && v.Key() == s.Key.Key()
}

// Options tunes one subscription.
type Options struct {
	// Queue overrides the hub's queue size.
	Queue int

	// Filter, when set, hides events it rejects. Hidden events still
	// advance the delivery position.
	Filter func(ev changes.Event) bool
}

// HubOptions configures a Hub.
type HubOptions struct {
	QueueSize int
	Logger    *logger.Logger
}

// Hub is a changes.Sink that routes events to subscriptions.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription
	nextID uint64
	closed bool

	queue int
	log   *logger.Logger
}

// NewHub returns an empty Hub.
func NewHub(opts HubOptions) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	return &Hub{
		subs:  map[string]map[uint64]*Subscription{},
		queue: opts.QueueSize,
		log:   logger.OrNop(opts.Logger).Component("subscription"),
	}
}

// Subscribe registers a subscription that delivers events of scope with a
// sequence number greater than start.
func (h *Hub) Subscribe(scope Scope, start uint64, opts Options) *Subscription {
	size := opts.Queue
	if size <= 0 {
		size = h.queue
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	s := &Subscription{
		id:     h.nextID,
		scope:  scope,
		last:   start,
		filter: opts.Filter,
		queue:  make(chan changes.Event, size),
		out:    make(chan changes.Event),
		done:   make(chan struct{}),
		hub:    h,
	}
	s.log = h.log.With().Uint64("subscription", s.id).Str("table", scope.Table).Logger()

	if h.closed {
		s.closeWith(ErrShutdown)
	}
	if h.subs[scope.Table] == nil {
		h.subs[scope.Table] = map[uint64]*Subscription{}
	}
	h.subs[scope.Table][s.id] = s

	go s.run()
	s.log.With().Uint64("start", start).Logger().Debug("subscribed")
	return s
}

// Publish routes ev to every matching subscription without blocking.
func (h *Hub) Publish(ev changes.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs[ev.Table] {
		if s.scope.matches(ev) {
			s.enqueue(ev)
		}
	}
}

// Len reports the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.subs {
		n += len(m)
	}
	return n
}

// Close ends every subscription with ErrShutdown. Later subscriptions are
// closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, m := range h.subs {
		for _, s := range m {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		s.closeWith(ErrShutdown)
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.subs[s.scope.Table]; m != nil {
		delete(m, s.id)
		if len(m) == 0 {
			delete(h.subs, s.scope.Table)
		}
	}
}
