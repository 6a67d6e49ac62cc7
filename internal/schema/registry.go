// Package schema derives typed table descriptors from store metadata and
// keeps them in an atomically swapped snapshot.
package schema

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koustreak/recordbase/internal/database"
	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/logger"
)

// TableConfig exposes one table. An empty Expand list makes every eligible
// foreign key expandable.
type TableConfig struct {
	Name   string
	Expand []string
}

// Options configures a Registry.
type Options struct {
	// Tables is the allowlist of exposed tables. When empty every table not
	// prefixed with "_" or "sqlite_" is exposed.
	Tables []TableConfig
	Logger *logger.Logger
}

type snapshot struct {
	version int64
	tables  map[string]*TableDescriptor
	names   []string
}

// Registry serves table descriptors. Describe may be called concurrently
// with Reload; readers always observe a complete snapshot.
type Registry struct {
	src  database.Introspector
	opts Options
	log  *logger.Logger

	current  atomic.Pointer[snapshot]
	reloadMu sync.Mutex
}

// NewRegistry creates an empty registry; call Reload before use.
func NewRegistry(src database.Introspector, opts Options) *Registry {
	r := &Registry{
		src:  src,
		opts: opts,
		log:  logger.OrNop(opts.Logger).Component("schema"),
	}
	r.current.Store(&snapshot{tables: map[string]*TableDescriptor{}})
	return r
}

// Describe returns the descriptor of an exposed table.
func (r *Registry) Describe(name string) (*TableDescriptor, error) {
	if d, ok := r.current.Load().tables[name]; ok {
		return d, nil
	}
	return nil, errs.Newf(errs.ErrKindNotFound, "table %q not found", name)
}

// Tables returns the exposed table names, sorted.
func (r *Registry) Tables() []string {
	return append([]string(nil), r.current.Load().names...)
}

// Reload re-derives every descriptor and publishes them as one snapshot.
// On failure the previous snapshot stays in place.
func (r *Registry) Reload(ctx context.Context) error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	var version int64
	if v, ok := r.src.(database.SchemaVersioner); ok {
		n, err := v.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		version = n
	}

	s, err := database.InspectSchema(ctx, r.src)
	if err != nil {
		return errs.WithContext(err, "schema", "reload")
	}

	snap := r.build(s)
	snap.version = version
	r.current.Store(snap)

	r.log.InfoWith("schema loaded", map[string]any{
		"tables":  len(snap.names),
		"version": version,
	})
	return nil
}

// Watch polls the store's schema version every interval and reloads when
// it changes. It blocks until ctx is done. Stores that cannot report a
// version are only reloaded explicitly.
func (r *Registry) Watch(ctx context.Context, interval time.Duration) {
	v, ok := r.src.(database.SchemaVersioner)
	if !ok {
		r.log.Debugf("store %T does not report schema versions, watch disabled", r.src)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := v.SchemaVersion(ctx)
			if err != nil {
				r.log.ErrorWith("schema version check failed", err, nil)
				continue
			}
			if n == r.current.Load().version {
				continue
			}
			if err := r.Reload(ctx); err != nil {
				r.log.ErrorWith("schema reload failed", err, nil)
			}
		}
	}
}

func (r *Registry) build(s *database.Schema) *snapshot {
	expandAllow := map[string][]string{}
	exposed := map[string]bool{}

	if len(r.opts.Tables) > 0 {
		for _, tc := range r.opts.Tables {
			if _, ok := s.Tables[tc.Name]; !ok {
				r.log.Warnf("configured table %q does not exist", tc.Name)
				continue
			}
			exposed[tc.Name] = true
			expandAllow[tc.Name] = tc.Expand
		}
	} else {
		for name := range s.Tables {
			if !strings.HasPrefix(name, "_") && !strings.HasPrefix(name, "sqlite_") {
				exposed[name] = true
			}
		}
	}

	snap := &snapshot{tables: make(map[string]*TableDescriptor, len(exposed))}
	for name := range exposed {
		d := describe(s.Tables[name])
		if d.PK() == nil {
			r.log.With().Str("table", name).Logger().Warn("table has no single-column primary key, not exposed")
			continue
		}
		snap.tables[name] = d
	}

	for name, d := range snap.tables {
		allow := database.ToSet(expandAllow[name])
		for _, fk := range s.Tables[name].ForeignKeys {
			if len(allow) > 0 && !allow[fk.Column] {
				continue
			}
			target, ok := snap.tables[fk.RefTable]
			if !ok {
				continue
			}
			if _, ok := target.Column(fk.RefColumn); !ok {
				continue
			}
			d.Relations = append(d.Relations, Relation{
				Name:         fk.Column,
				LocalColumn:  fk.Column,
				TargetTable:  fk.RefTable,
				TargetColumn: fk.RefColumn,
			})
		}
		snap.names = append(snap.names, name)
	}
	sort.Strings(snap.names)
	return snap
}
