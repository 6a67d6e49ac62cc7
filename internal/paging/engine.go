package paging

import (
	"context"
	"time"

	"github.com/koustreak/recordbase/internal/database"
	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/logger"
	"github.com/koustreak/recordbase/internal/query"
	"github.com/koustreak/recordbase/internal/record"
)

// DefaultCountTimeout bounds the optional COUNT(*) query.
const DefaultCountTimeout = 5 * time.Second

// Page is one bounded slice of a result set.
type Page struct {
	Rows       []*record.Record
	NextCursor *string
	TotalCount *int64
}

// Engine runs plans against a store.
type Engine struct {
	db           database.DB
	countTimeout time.Duration
	log          *logger.Logger
}

// Options configures an Engine.
type Options struct {
	CountTimeout time.Duration
	Logger       *logger.Logger
}

// NewEngine returns an Engine reading from db.
func NewEngine(db database.DB, opts Options) *Engine {
	if opts.CountTimeout <= 0 {
		opts.CountTimeout = DefaultCountTimeout
	}
	return &Engine{
		db:           db,
		countTimeout: opts.CountTimeout,
		log:          logger.OrNop(opts.Logger).Component("paging"),
	}
}

// ordering resolves the effective ORDER BY. Rows are ordered by the
// explicit terms with the key appended as tie-break; without terms the key
// descends. keyOnly reports whether the key is the only ordering term, the
// one case where a cursor can resume the scan.
func ordering(plan *query.Plan) (terms []query.Sort, keyOnly bool) {
	pk := plan.Table.PK().Name
	if len(plan.Sort) == 0 {
		return []query.Sort{{Column: pk, Desc: true}}, true
	}

	terms = append(terms, plan.Sort...)
	for _, s := range plan.Sort {
		if s.Column == pk {
			return terms, len(plan.Sort) == 1
		}
	}
	return append(terms, query.Sort{Column: pk, Desc: true}), false
}

// Page fetches one page for plan. A cursor resumes strictly after the key
// it holds; the predicate is value based, so a cursor whose row has since
// been deleted still anchors correctly. An offset is only honoured when no
// cursor was sent and forfeits stability under concurrent writes.
func (e *Engine) Page(ctx context.Context, plan *query.Plan) (*Page, error) {
	pk := plan.Table.PK()
	if pk == nil {
		return nil, errs.Newf(errs.ErrKindNotFound, "table %q has no primary key", plan.Table.Name)
	}
	terms, keyOnly := ordering(plan)

	b := database.Select(plan.Table.Name, e.db.Dialect()).Columns(plan.Table.ColumnNames()...)
	plan.Apply(b)

	if plan.Cursor != "" {
		if !keyOnly {
			return nil, errs.Newf(errs.ErrKindInvalidSort,
				"cursors require ordering by %q only; use offset with other sorts", pk.Name)
		}
		after, err := DecodeCursor(plan.Cursor, pk.Type)
		if err != nil {
			return nil, err
		}
		op := ">"
		if terms[0].Desc {
			op = "<"
		}
		b.Where(pk.Name, op, after.Arg())
	}

	for _, s := range terms {
		dir := database.Asc
		if s.Desc {
			dir = database.Desc
		}
		b.OrderBy(s.Column, dir)
	}
	b.Limit(plan.Limit)
	if plan.UseOffset {
		b.Offset(plan.Offset)
	}

	sql, args, err := b.Build()
	if err != nil {
		return nil, err
	}

	rs, err := database.QueryAll(ctx, e.db, sql, args...)
	if err != nil {
		return nil, errs.WithContext(err, plan.Table.Name, "list")
	}

	page := &Page{Rows: plan.Table.Records(rs)}

	if keyOnly && len(page.Rows) == plan.Limit {
		last, _ := page.Rows[len(page.Rows)-1].Get(pk.Name)
		if c := EncodeCursor(last); c != "" {
			page.NextCursor = &c
		}
	}

	if plan.Count {
		n, err := e.Count(ctx, plan)
		if err != nil {
			return nil, err
		}
		page.TotalCount = &n
	}
	return page, nil
}

// Count returns the number of rows matching the plan's filters, ignoring
// cursor, offset and limit. It runs under its own deadline.
func (e *Engine) Count(ctx context.Context, plan *query.Plan) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.countTimeout)
	defer cancel()

	b := database.Select(plan.Table.Name, e.db.Dialect()).Count()
	sql, args, err := plan.Apply(b).Build()
	if err != nil {
		return 0, err
	}

	var n int64
	if err := e.db.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		e.log.With().Str("table", plan.Table.Name).Err(err).Logger().Warn("count failed")
		return 0, errs.WithContext(err, plan.Table.Name, "count")
	}
	return n, nil
}
