package recordapi

import (
	"context"

	"github.com/koustreak/recordbase/internal/access"
	"github.com/koustreak/recordbase/internal/changes"
	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/subscription"
)

// TableWildcard subscribes to every record of a table.
const TableWildcard = "*"

// Subscribe opens a change stream on one record, or on the whole table
// when id is TableWildcard. A record subscription requires the record to
// exist and delivers only events committed after this call.
func (s *Service) Subscribe(ctx context.Context, p access.Principal, table, id string) (*subscription.Subscription, error) {
	desc, err := s.describeForRead(ctx, p, table)
	if err != nil {
		return nil, err
	}

	scope := subscription.TableScope(desc.Name)
	if id != TableWildcard {
		key, err := ParseID(desc, id)
		if err != nil {
			return nil, err
		}
		rec, err := fetchOne(ctx, s.db, s.db.Dialect(), desc, key)
		if err != nil {
			return nil, errs.WithContext(err, desc.Name, "subscribe")
		}
		if !access.CanReadRow(ctx, s.auth, p, desc.Name, rec) {
			return nil, errs.Newf(errs.ErrKindAccessDenied, "no read access to this %q record", desc.Name)
		}
		scope = subscription.RecordScope(desc.Name, desc.PK().Name, key)
	}

	auth := s.auth
	opts := subscription.Options{Filter: func(ev changes.Event) bool {
		return access.CanReadRow(context.Background(), auth, p, ev.Table, ev.Row)
	}}

	var sub *subscription.Subscription
	s.capture.AtSeq(desc.Name, func(seq uint64) {
		sub = s.hub.Subscribe(scope, seq, opts)
	})
	s.log.With().Str("table", desc.Name).Str("id", id).Uint64("subscription", sub.ID()).Logger().Debug("subscription opened")
	return sub, nil
}
