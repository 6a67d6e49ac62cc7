package subscription

import (
	"sync"

	"github.com/koustreak/recordbase/internal/changes"
	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/logger"
)

// Subscription is a live event stream. Events are received from Events()
// until it is closed; Err then reports why.
type Subscription struct {
	id     uint64
	scope  Scope
	filter func(changes.Event) bool
	hub    *Hub
	log    *logger.Logger

	// last is the highest sequence number delivered or filtered; owned by run.
	last uint64

	queue chan changes.Event
	out   chan changes.Event
	done  chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() uint64 { return s.id }

// Scope returns what the subscription listens to.
func (s *Subscription) Scope() Scope { return s.scope }

// Events returns the delivery channel. It is closed when the subscription
// ends.
func (s *Subscription) Events() <-chan changes.Event { return s.out }

// Done is closed as soon as the subscription is closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports the close reason: nil while active or after Close,
// ErrSlowConsumer, ErrShutdown or a SequenceGap error otherwise.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.closeWith(nil)
}

func (s *Subscription) closeWith(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// enqueue is called by the hub under its read lock and must not block.
func (s *Subscription) enqueue(ev changes.Event) {
	if s.closed() {
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.log.WarnWith("subscriber queue full, closing", map[string]any{"seq": ev.Seq, "queue": cap(s.queue)})
		s.closeWith(ErrSlowConsumer)
	}
}

func (s *Subscription) run() {
	defer close(s.out)
	defer s.hub.remove(s)

	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			if !s.accept(ev) {
				continue
			}
			if s.closed() {
				return
			}
			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		}
	}
}

// accept applies sequence bookkeeping and the filter to ev.
func (s *Subscription) accept(ev changes.Event) bool {
	if ev.Seq <= s.last {
		return false
	}
	if !s.scope.IsRecord() && ev.Seq > s.last+1 {
		err := errs.Newf(errs.ErrKindSequenceGap, "sequence gap on %q: expected %d, got %d", s.scope.Table, s.last+1, ev.Seq)
		s.log.ErrorWith("closing subscription", err, map[string]any{"expected": s.last + 1, "seq": ev.Seq})
		s.closeWith(err)
		return false
	}
	s.last = ev.Seq
	return s.filter == nil || s.filter(ev)
}
