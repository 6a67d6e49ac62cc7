package access

import (
	"context"

	"github.com/koustreak/recordbase/internal/record"
)

// Principal matchers usable in rule lists besides literal principal ids.
const (
	Everyone      = "*"
	Authenticated = "authenticated"
)

// Rule grants access to one table. Table "*" applies to tables without a
// rule of their own.
type Rule struct {
	Table string
	Read  []string
	Write []string
	// OwnerColumn limits row reads to rows whose column equals the
	// principal id.
	OwnerColumn string
}

// Policy is a static, config-driven Authorizer. Tables without a matching
// rule are denied. Admin principals bypass every rule.
type Policy struct {
	rules map[string]Rule
}

// NewPolicy indexes rules by table; later rules for the same table win.
func NewPolicy(rules []Rule) *Policy {
	p := &Policy{rules: make(map[string]Rule, len(rules))}
	for _, r := range rules {
		p.rules[r.Table] = r
	}
	return p
}

func (p *Policy) rule(table string) (Rule, bool) {
	if r, ok := p.rules[table]; ok {
		return r, true
	}
	r, ok := p.rules[Everyone]
	return r, ok
}

func (p *Policy) CanRead(_ context.Context, pr Principal, table string, _ []string) bool {
	if pr.Admin {
		return true
	}
	r, ok := p.rule(table)
	return ok && matches(r.Read, pr)
}

func (p *Policy) CanWrite(_ context.Context, pr Principal, table string) bool {
	if pr.Admin {
		return true
	}
	r, ok := p.rule(table)
	return ok && matches(r.Write, pr)
}

func (p *Policy) CanReadRow(_ context.Context, pr Principal, table string, row *record.Record) bool {
	if pr.Admin {
		return true
	}
	r, ok := p.rule(table)
	if !ok {
		return false
	}
	if r.OwnerColumn == "" {
		return true
	}
	if pr.Anonymous || pr.ID == "" {
		return false
	}
	v, ok := row.Get(r.OwnerColumn)
	return ok && !v.IsNull() && v.String() == pr.ID
}

// OwnerColumn reports the owner column restricting p on table, if any.
func (p *Policy) OwnerColumn(_ context.Context, pr Principal, table string) (string, bool) {
	if pr.Admin {
		return "", false
	}
	r, ok := p.rule(table)
	if !ok || r.OwnerColumn == "" {
		return "", false
	}
	return r.OwnerColumn, true
}

func matches(list []string, pr Principal) bool {
	for _, m := range list {
		switch m {
		case Everyone:
			return true
		case Authenticated:
			if !pr.Anonymous {
				return true
			}
		default:
			if !pr.Anonymous && m == pr.ID {
				return true
			}
		}
	}
	return false
}
