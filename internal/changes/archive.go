package changes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/filestore"
	"github.com/koustreak/recordbase/internal/logger"
)

const (
	DefaultArchiveBuffer    = 4096
	DefaultArchiveBatch     = 500
	DefaultArchiveInterval  = 10 * time.Second
	archiveShutdownDeadline = 10 * time.Second
)

// ArchiveOptions tunes an Archiver. Zero values take the defaults.
type ArchiveOptions struct {
	Bucket        string
	Buffer        int
	BatchSize     int
	FlushInterval time.Duration
	Logger        *logger.Logger
}

// Archiver is a Sink that writes events to object storage as NDJSON
// batches keyed events/<table>/<run>/<first>-<last>.ndjson. The run id
// separates processes, since sequence numbers restart at 1.
//
// Publish never blocks: when the buffer is full the event is dropped and
// counted.
type Archiver struct {
	store  filestore.Store
	opts   ArchiveOptions
	run    string
	in     chan Event
	done   chan struct{}
	drops  atomic.Int64
	writes atomic.Int64
	log    *logger.Logger
}

// NewArchiver returns an Archiver. Call Run to start flushing.
func NewArchiver(store filestore.Store, opts ArchiveOptions) *Archiver {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultArchiveBuffer
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultArchiveBatch
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultArchiveInterval
	}
	run := uuid.Must(uuid.NewV7()).String()
	return &Archiver{
		store: store,
		opts:  opts,
		run:   run,
		in:    make(chan Event, opts.Buffer),
		done:  make(chan struct{}),
		log:   logger.OrNop(opts.Logger).Component("archive").With().Str("run", run).Logger(),
	}
}

// Publish queues ev for archiving.
func (a *Archiver) Publish(ev Event) {
	select {
	case a.in <- ev:
	default:
		if n := a.drops.Add(1); n == 1 || n%1000 == 0 {
			a.log.With().Str("table", ev.Table).Uint64("seq", ev.Seq).Any("dropped", n).Logger().Warn("archive buffer full, dropping events")
		}
	}
}

// Dropped reports how many events were discarded.
func (a *Archiver) Dropped() int64 { return a.drops.Load() }

// Written reports how many objects were uploaded.
func (a *Archiver) Written() int64 { return a.writes.Load() }

// Run flushes batches until ctx is done, then flushes what is left.
func (a *Archiver) Run(ctx context.Context) error {
	defer close(a.done)
	if err := a.store.EnsureBucket(ctx, a.opts.Bucket); err != nil {
		return err
	}

	pending := map[string][]Event{}
	ticker := time.NewTicker(a.opts.FlushInterval)
	defer ticker.Stop()

	flushAll := func(ctx context.Context) {
		for table, batch := range pending {
			a.flush(ctx, table, batch)
			delete(pending, table)
		}
	}

	for {
		select {
		case ev := <-a.in:
			pending[ev.Table] = append(pending[ev.Table], ev)
			if batch := pending[ev.Table]; len(batch) >= a.opts.BatchSize {
				a.flush(ctx, ev.Table, batch)
				delete(pending, ev.Table)
			}
		case <-ticker.C:
			flushAll(ctx)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), archiveShutdownDeadline)
		drain:
			for {
				select {
				case ev := <-a.in:
					pending[ev.Table] = append(pending[ev.Table], ev)
				default:
					break drain
				}
			}
			flushAll(drainCtx)
			cancel()
			return nil
		}
	}
}

// Done is closed once Run has returned.
func (a *Archiver) Done() <-chan struct{} { return a.done }

func (a *Archiver) flush(ctx context.Context, table string, batch []Event) {
	if len(batch) == 0 {
		return
	}
	key := ObjectKey(table, a.run, batch[0].Seq, batch[len(batch)-1].Seq)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range batch {
		if err := enc.Encode(ev); err != nil {
			a.log.ErrorWith("failed to encode event", err, map[string]any{"table": table, "seq": ev.Seq})
			return
		}
	}

	err := a.store.PutObject(ctx, a.opts.Bucket, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), filestore.ContentTypeNDJSON)
	if err != nil {
		a.log.ErrorWith("failed to archive batch", err, map[string]any{"key": key, "events": len(batch), "retryable": errs.Retryable(err)})
		return
	}
	a.writes.Add(1)
	a.log.With().Str("key", key).Int("events", len(batch)).Logger().Debug("batch archived")
}

// ObjectKey names the archive object holding seqs first..last of table.
// Sequence numbers are zero padded so keys sort in sequence order.
func ObjectKey(table, run string, first, last uint64) string {
	return fmt.Sprintf("events/%s/%s/%020d-%020d.ndjson", table, run, first, last)
}

// ListArchive returns the archived batches of table across all runs.
func ListArchive(ctx context.Context, store filestore.Store, bucket, table string) ([]filestore.ObjectInfo, error) {
	return store.ListObjects(ctx, bucket, filestore.ListOptions{Prefix: "events/" + table + "/"})
}
