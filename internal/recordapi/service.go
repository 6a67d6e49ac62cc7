// Package recordapi runs record requests end to end: access checks, plan
// compilation, paging, expansion and captured writes.
package recordapi

import (
	"context"
	"net/url"
	"time"

	"github.com/koustreak/recordbase/internal/access"
	"github.com/koustreak/recordbase/internal/changes"
	"github.com/koustreak/recordbase/internal/database"
	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/expand"
	"github.com/koustreak/recordbase/internal/logger"
	"github.com/koustreak/recordbase/internal/paging"
	"github.com/koustreak/recordbase/internal/query"
	"github.com/koustreak/recordbase/internal/record"
	"github.com/koustreak/recordbase/internal/schema"
	"github.com/koustreak/recordbase/internal/subscription"
)

// Options configures a Service.
type Options struct {
	// Authorizer defaults to access.AllowAll.
	Authorizer access.Authorizer
	Limits     query.Limits
	Paging     paging.Options

	// QueryTimeout bounds each request's store work. Zero means no bound.
	QueryTimeout time.Duration
	Logger       *logger.Logger
}

// Service is the record API. It is safe for concurrent use.
type Service struct {
	db       database.DB
	reg      expand.Describer
	auth     access.Authorizer
	capture  *changes.Capture
	hub      *subscription.Hub
	pager    *paging.Engine
	expander *expand.Resolver
	limits   query.Limits
	timeout  time.Duration
	log      *logger.Logger
}

// New wires a Service. The hub must already be registered as a sink of
// capture.
func New(db database.DB, reg expand.Describer, capture *changes.Capture, hub *subscription.Hub, opts Options) *Service {
	auth := opts.Authorizer
	if auth == nil {
		auth = access.AllowAll{}
	}
	log := logger.OrNop(opts.Logger)
	pagingOpts := opts.Paging
	if pagingOpts.Logger == nil {
		pagingOpts.Logger = log
	}
	return &Service{
		db:       db,
		reg:      reg,
		auth:     auth,
		capture:  capture,
		hub:      hub,
		pager:    paging.NewEngine(db, pagingOpts),
		expander: expand.NewResolver(db, db.Dialect(), reg, auth, log),
		limits:   opts.Limits,
		timeout:  opts.QueryTimeout,
		log:      log.Component("recordapi"),
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// describeForRead resolves table and checks read access.
func (s *Service) describeForRead(ctx context.Context, p access.Principal, table string) (*schema.TableDescriptor, error) {
	desc, err := s.reg.Describe(table)
	if err != nil {
		return nil, err
	}
	if desc.PK() == nil {
		return nil, errs.Newf(errs.ErrKindNotFound, "table %q not found", table)
	}
	if !s.auth.CanRead(ctx, p, desc.Name, desc.ColumnNames()) {
		return nil, errs.Newf(errs.ErrKindAccessDenied, "no read access to %q", desc.Name)
	}
	return desc, nil
}

func (s *Service) describeForWrite(ctx context.Context, p access.Principal, table string) (*schema.TableDescriptor, error) {
	desc, err := s.reg.Describe(table)
	if err != nil {
		return nil, err
	}
	if desc.PK() == nil {
		return nil, errs.Newf(errs.ErrKindNotFound, "table %q not found", table)
	}
	if !s.auth.CanWrite(ctx, p, desc.Name) {
		return nil, errs.Newf(errs.ErrKindAccessDenied, "no write access to %q", desc.Name)
	}
	return desc, nil
}

// ParseID converts a path id into a value of the table's key type. Integer
// keys are decimal, blob keys UUID text or base64url, text keys verbatim.
func ParseID(desc *schema.TableDescriptor, id string) (record.Value, error) {
	pk := desc.PK()
	v, err := record.Parse(id, pk.Type)
	if err != nil {
		return record.Value{}, errs.Newf(errs.ErrKindInvalidInput, "invalid record id for %q", desc.Name)
	}
	return v, nil
}

// Schema returns the JSON Schema of table for mode.
func (s *Service) Schema(ctx context.Context, p access.Principal, table string, mode schema.Mode) (*schema.JSONSchemaDoc, error) {
	desc, err := s.describeForRead(ctx, p, table)
	if err != nil {
		return nil, err
	}
	return schema.JSONSchema(desc, mode), nil
}

// Read returns one record with the named relations expanded.
func (s *Service) Read(ctx context.Context, p access.Principal, table, id string, expandNames []string) (*record.Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	desc, err := s.describeForRead(ctx, p, table)
	if err != nil {
		return nil, err
	}
	key, err := ParseID(desc, id)
	if err != nil {
		return nil, err
	}
	rels, err := expand.Relations(desc, expandNames)
	if err != nil {
		return nil, err
	}
	if err := s.expander.Check(ctx, p, rels); err != nil {
		return nil, err
	}

	rec, err := fetchOne(ctx, s.db, s.db.Dialect(), desc, key)
	if err != nil {
		return nil, errs.WithContext(err, desc.Name, "read")
	}
	if !access.CanReadRow(ctx, s.auth, p, desc.Name, rec) {
		return nil, errs.Newf(errs.ErrKindAccessDenied, "no read access to this %q record", desc.Name)
	}

	if err := s.expander.Expand(ctx, p, desc, []*record.Record{rec}, expandNames); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns one page of table selected by the query string params.
// Parameter, filter and expansion errors are reported before the store is
// queried.
func (s *Service) List(ctx context.Context, p access.Principal, table string, params url.Values) (*paging.Page, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	desc, err := s.describeForRead(ctx, p, table)
	if err != nil {
		return nil, err
	}
	raw, err := query.ParseParams(params)
	if err != nil {
		return nil, err
	}
	plan, err := query.Compile(desc, raw, s.limits)
	if err != nil {
		return nil, err
	}
	if err := s.scopeToOwner(ctx, p, plan); err != nil {
		return nil, err
	}
	rels, err := expand.Relations(desc, plan.Expand)
	if err != nil {
		return nil, err
	}
	if err := s.expander.Check(ctx, p, rels); err != nil {
		return nil, err
	}

	page, err := s.pager.Page(ctx, plan)
	if err != nil {
		return nil, err
	}

	visible := page.Rows[:0]
	for _, r := range page.Rows {
		if access.CanReadRow(ctx, s.auth, p, desc.Name, r) {
			visible = append(visible, r)
		}
	}
	page.Rows = visible

	if err := s.expander.Expand(ctx, p, desc, page.Rows, plan.Expand); err != nil {
		return nil, err
	}
	return page, nil
}

// scopeToOwner pushes an ownership row rule into the plan as an equality
// filter so that limits, cursors and counts see only the caller's rows.
func (s *Service) scopeToOwner(ctx context.Context, p access.Principal, plan *query.Plan) error {
	scoper, ok := s.auth.(access.RowScoper)
	if !ok {
		return nil
	}
	column, ok := scoper.OwnerColumn(ctx, p, plan.Table.Name)
	if !ok {
		return nil
	}
	col, ok := plan.Table.Column(column)
	if !ok || p.Anonymous || p.ID == "" {
		return errs.Newf(errs.ErrKindAccessDenied, "no read access to %q", plan.Table.Name)
	}
	v, err := record.Parse(p.ID, col.Type)
	if err != nil {
		return errs.Newf(errs.ErrKindAccessDenied, "no read access to %q", plan.Table.Name)
	}

	filters := make([]query.Filter, 0, len(plan.Filters)+1)
	filters = append(filters, plan.Filters...)
	plan.Filters = append(filters, query.Filter{Column: col.Name, Op: query.OpEq, Value: v})
	return nil
}

// fetchOne reads the row of desc keyed by key through q.
func fetchOne(ctx context.Context, q database.Querier, d database.Dialect, desc *schema.TableDescriptor, key record.Value) (*record.Record, error) {
	sql, args, err := database.Select(desc.Name, d).
		Columns(desc.ColumnNames()...).
		Where(desc.PK().Name, "=", key.Arg()).
		Limit(1).
		Build()
	if err != nil {
		return nil, err
	}
	rs, err := database.QueryAll(ctx, q, sql, args...)
	if err != nil {
		return nil, err
	}
	if len(rs.Rows) == 0 {
		return nil, errs.New(errs.ErrKindNotFound, "record not found")
	}
	return desc.Record(rs.Columns, rs.Rows[0]), nil
}
