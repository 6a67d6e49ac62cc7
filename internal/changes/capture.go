package changes

import (
	"context"
	"sync"

	"github.com/koustreak/recordbase/internal/database"
	"github.com/koustreak/recordbase/internal/logger"
)

// TxFunc performs the writes of one transaction and reports what changed.
type TxFunc func(ctx context.Context, tx database.Tx) ([]Mutation, error)

// Capture is the single write boundary of the store. Writers are
// serialized, so commit order equals sequence order. Sequence numbers start
// at 1 per table and are not persisted across restarts.
type Capture struct {
	db  database.DB
	log *logger.Logger

	writeMu sync.Mutex

	// pubMu guards seqs and sinks; held while events are handed to sinks.
	pubMu sync.RWMutex
	seqs  map[string]uint64
	sinks []Sink
}

// NewCapture returns a Capture writing through db.
func NewCapture(db database.DB, log *logger.Logger) *Capture {
	return &Capture{
		db:   db,
		log:  logger.OrNop(log).Component("changes"),
		seqs: map[string]uint64{},
	}
}

// AddSink registers s for all events published after this call.
func (c *Capture) AddSink(s Sink) {
	c.pubMu.Lock()
	c.sinks = append(c.sinks, s)
	c.pubMu.Unlock()
}

// CurrentSeq returns the sequence number of the last event published for
// table, or 0.
func (c *Capture) CurrentSeq(table string) uint64 {
	c.pubMu.RLock()
	defer c.pubMu.RUnlock()
	return c.seqs[table]
}

// AtSeq calls fn with the current sequence number of table while no event
// can be published. Subscribers register inside fn so that they observe
// every event after the returned position.
func (c *Capture) AtSeq(table string, fn func(seq uint64)) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	fn(c.seqs[table])
}

// Write runs fn in a transaction. On commit the reported mutations are
// sequenced and published; on any error the transaction is rolled back and
// nothing is published.
func (c *Capture) Write(ctx context.Context, fn TxFunc) ([]Event, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx, err := c.db.Begin(ctx)
	if err != nil {
		return nil, err
	}

	muts, err := fn(ctx, tx)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			c.log.With().Err(rbErr).Logger().Warn("rollback failed")
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return c.publish(muts), nil
}

func (c *Capture) publish(muts []Mutation) []Event {
	if len(muts) == 0 {
		return nil
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	events := make([]Event, len(muts))
	for i, m := range muts {
		c.seqs[m.Table]++
		events[i] = Event{Kind: m.Kind, Table: m.Table, Seq: c.seqs[m.Table], Row: m.Row}
	}
	for _, ev := range events {
		for _, s := range c.sinks {
			s.Publish(ev)
		}
	}

	last := events[len(events)-1]
	c.log.With().Str("table", last.Table).Uint64("seq", last.Seq).Int("events", len(events)).Logger().Debug("changes published")
	return events
}
