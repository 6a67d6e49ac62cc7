// Package query turns untrusted list parameters into a validated, fully
// parameterized query plan.
package query

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/koustreak/recordbase/internal/errs"
)

// RawFilter is one filter parameter before validation.
type RawFilter struct {
	Column string
	Op     string
	Value  string
}

// RawParams are the list parameters exactly as the client sent them.
type RawParams struct {
	Filters []RawFilter
	Sort    []string
	Limit   *int
	Cursor  string
	Offset  *int
	Expand  []string
	Count   bool
}

// ParseParams extracts list parameters from a query string:
//
//	filter[col][op]=v   filter[col]=v (eq)
//	sort=-created,+title (also accepted as "order")
//	limit=20 cursor=… offset=40 expand=author,tags count=true
//
// Unrecognised keys are ignored.
func ParseParams(v url.Values) (*RawParams, error) {
	p := &RawParams{}

	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		values := v[key]
		last := ""
		if len(values) > 0 {
			last = values[len(values)-1]
		}

		switch {
		case strings.HasPrefix(key, "filter["):
			col, op, err := parseFilterKey(key)
			if err != nil {
				return nil, err
			}
			for _, val := range values {
				p.Filters = append(p.Filters, RawFilter{Column: col, Op: op, Value: val})
			}
		case key == "sort" || key == "order":
			for _, val := range values {
				p.Sort = append(p.Sort, strings.Split(val, ",")...)
			}
		case key == "limit":
			n, err := parseInt(key, last)
			if err != nil {
				return nil, err
			}
			p.Limit = &n
		case key == "offset":
			n, err := parseInt(key, last)
			if err != nil {
				return nil, err
			}
			p.Offset = &n
		case key == "cursor":
			p.Cursor = last
		case key == "expand":
			for _, val := range values {
				for _, name := range strings.Split(val, ",") {
					if name = strings.TrimSpace(name); name != "" {
						p.Expand = append(p.Expand, name)
					}
				}
			}
		case key == "count":
			if last == "" {
				p.Count = true
				continue
			}
			b, err := strconv.ParseBool(last)
			if err != nil {
				return nil, errs.Newf(errs.ErrKindInvalidFilter, "count must be true or false, got %q", last)
			}
			p.Count = b
		}
	}
	return p, nil
}

// parseFilterKey splits "filter[col]" or "filter[col][op]".
func parseFilterKey(key string) (col, op string, err error) {
	rest := strings.TrimPrefix(key, "filter[")
	end := strings.IndexByte(rest, ']')
	if end <= 0 {
		return "", "", errs.Newf(errs.ErrKindInvalidFilter, "malformed filter parameter %q", key)
	}
	col, rest = rest[:end], rest[end+1:]

	switch {
	case rest == "":
		return col, string(OpEq), nil
	case strings.HasPrefix(rest, "[") && strings.HasSuffix(rest, "]") && len(rest) > 2:
		return col, rest[1 : len(rest)-1], nil
	default:
		return "", "", errs.Newf(errs.ErrKindInvalidFilter, "malformed filter parameter %q", key)
	}
}

func parseInt(key, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errs.Newf(errs.ErrKindInvalidFilter, "%s must be an integer, got %q", key, s)
	}
	return n, nil
}
