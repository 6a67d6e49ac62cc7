// Package changes captures committed writes and turns them into ordered,
// per-table sequenced change events for subscribers and the archive.
package changes

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/koustreak/recordbase/internal/record"
)

// Kind is the type of a row change.
type Kind int

const (
	KindInsert Kind = iota
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindUpdate:
		return "Update"
	case KindDelete:
		return "Delete"
	default:
		return "Insert"
	}
}

// Mutation is a row change produced inside a write transaction. Row is the
// post-image for inserts and updates and the pre-image for deletes.
type Mutation struct {
	Kind  Kind
	Table string
	Row   *record.Record
}

// Event is a committed Mutation with its per-table sequence number.
// Events are immutable once published; sinks must not modify Row.
type Event struct {
	Kind  Kind
	Table string
	Seq   uint64
	Row   *record.Record
}

// MarshalJSON renders {"<Kind>": row, "table": t, "seq": n}.
func (e Event) MarshalJSON() ([]byte, error) {
	row, err := json.Marshal(e.Row)
	if err != nil {
		return nil, err
	}
	table, err := json.Marshal(e.Table)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"`)
	buf.WriteString(e.Kind.String())
	buf.WriteString(`":`)
	buf.Write(row)
	buf.WriteString(`,"table":`)
	buf.Write(table)
	buf.WriteString(`,"seq":`)
	buf.WriteString(strconv.FormatUint(e.Seq, 10))
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Sink receives committed events in commit order. Publish must not block.
type Sink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }
