// Package expand inlines rows referenced through foreign keys into a page
// of records, one batched fetch per relation.
package expand

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/koustreak/recordbase/internal/access"
	"github.com/koustreak/recordbase/internal/database"
	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/logger"
	"github.com/koustreak/recordbase/internal/record"
	"github.com/koustreak/recordbase/internal/schema"
)

// Describer resolves target table descriptors.
type Describer interface {
	Describe(name string) (*schema.TableDescriptor, error)
}

// Resolver expands relations. Expansion reads outside the page's own
// snapshot, so a target can be newer than the row that references it.
type Resolver struct {
	db   database.Querier
	d    database.Dialect
	reg  Describer
	auth access.Authorizer
	log  *logger.Logger
}

// NewResolver returns a Resolver reading through q.
func NewResolver(q database.Querier, d database.Dialect, reg Describer, auth access.Authorizer, log *logger.Logger) *Resolver {
	return &Resolver{db: q, d: d, reg: reg, auth: auth, log: logger.OrNop(log).Component("expand")}
}

// Relations resolves requested relation names against desc. Unknown names
// fail with a NotFound-kind "unknown relation" error.
func Relations(desc *schema.TableDescriptor, names []string) ([]schema.Relation, error) {
	seen := map[string]bool{}
	out := make([]schema.Relation, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		rel, ok := desc.Relation(n)
		if !ok {
			return nil, errs.Newf(errs.ErrKindNotFound, "unknown relation %q on table %q", n, desc.Name)
		}
		out = append(out, *rel)
	}
	return out, nil
}

// Link renders every relation column of rows as {id, data: null}.
func Link(desc *schema.TableDescriptor, rows []*record.Record) {
	for _, rel := range desc.Relations {
		for _, r := range rows {
			r.Link(rel.LocalColumn)
		}
	}
}

// Check verifies the caller may read every relation target.
func (r *Resolver) Check(ctx context.Context, p access.Principal, rels []schema.Relation) error {
	for _, rel := range rels {
		target, err := r.reg.Describe(rel.TargetTable)
		if err != nil {
			return err
		}
		if !r.auth.CanRead(ctx, p, target.Name, target.ColumnNames()) {
			return errs.Newf(errs.ErrKindExpansionDenied, "no read access to %q referenced by %q", target.Name, rel.Name)
		}
	}
	return nil
}

type fetched struct {
	rel  schema.Relation
	kind record.Kind
	rows map[string]*record.Record
}

// matchKey normalises a local column value to the target column kind so
// that, for example, an untyped local id still matches an integer key.
func matchKey(v record.Value, kind record.Kind) string {
	if cv, err := record.Coerce(v, kind); err == nil {
		return cv.Key()
	}
	return v.Key()
}

// Expand attaches the referenced rows for names to rows in place. Relation
// ids stay visible when a target row is missing or fails the row policy;
// only its data is null.
func (r *Resolver) Expand(ctx context.Context, p access.Principal, desc *schema.TableDescriptor, rows []*record.Record, names []string) error {
	rels, err := Relations(desc, names)
	if err != nil {
		return err
	}
	if err := r.Check(ctx, p, rels); err != nil {
		return err
	}
	Link(desc, rows)
	if len(rels) == 0 || len(rows) == 0 {
		return nil
	}

	results := make([]fetched, len(rels))
	g, gctx := errgroup.WithContext(ctx)
	for i, rel := range rels {
		g.Go(func() error {
			res, err := r.fetch(gctx, p, rel, rows)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, res := range results {
		for _, row := range rows {
			id, ok := row.Get(res.rel.LocalColumn)
			if !ok || id.IsNull() {
				continue
			}
			if target, ok := res.rows[matchKey(id, res.kind)]; ok {
				row.SetRef(res.rel.LocalColumn, target)
			}
		}
	}
	return nil
}

// fetch loads all targets of one relation with a single IN query.
func (r *Resolver) fetch(ctx context.Context, p access.Principal, rel schema.Relation, rows []*record.Record) (fetched, error) {
	res := fetched{rel: rel}
	target, err := r.reg.Describe(rel.TargetTable)
	if err != nil {
		return res, err
	}
	if col, ok := target.Column(rel.TargetColumn); ok {
		res.kind = col.Type
	}

	seen := map[string]bool{}
	var keys []any
	for _, row := range rows {
		v, ok := row.Get(rel.LocalColumn)
		if !ok || v.IsNull() {
			continue
		}
		if cv, err := record.Coerce(v, res.kind); err == nil {
			v = cv
		}
		if !seen[v.Key()] {
			seen[v.Key()] = true
			keys = append(keys, v.Arg())
		}
	}
	if len(keys) == 0 {
		return res, nil
	}

	sql, args, err := database.Select(target.Name, r.d).
		Columns(target.ColumnNames()...).
		WhereIn(rel.TargetColumn, keys...).
		Build()
	if err != nil {
		return res, err
	}
	rs, err := database.QueryAll(ctx, r.db, sql, args...)
	if err != nil {
		return res, errs.WithContext(err, target.Name, "expand")
	}

	out := make(map[string]*record.Record, len(rs.Rows))
	for _, rec := range target.Records(rs) {
		if !access.CanReadRow(ctx, r.auth, p, target.Name, rec) {
			continue
		}
		id, _ := rec.Get(rel.TargetColumn)
		out[id.Key()] = rec
	}
	res.rows = out
	r.log.With().Str("relation", rel.Name).Int("keys", len(keys)).Int("rows", len(out)).Logger().Debug("relation fetched")
	return res, nil
}
