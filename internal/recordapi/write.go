package recordapi

import (
	"context"
	"encoding/json"

	"github.com/koustreak/recordbase/internal/access"
	"github.com/koustreak/recordbase/internal/changes"
	"github.com/koustreak/recordbase/internal/database"
	"github.com/koustreak/recordbase/internal/errs"
	"github.com/koustreak/recordbase/internal/record"
	"github.com/koustreak/recordbase/internal/schema"
)

// Create inserts one record and returns its primary key.
func (s *Service) Create(ctx context.Context, p access.Principal, table string, body json.RawMessage) (record.Value, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	desc, err := s.describeForWrite(ctx, p, table)
	if err != nil {
		return record.Value{}, err
	}
	r, err := decodeRow(desc, body)
	if err != nil {
		return record.Value{}, err
	}
	ids, err := s.create(ctx, desc, []*row{r})
	if err != nil {
		return record.Value{}, err
	}
	return ids[0], nil
}

// CreateBulk inserts a JSON array of records in one transaction. Either
// every record is inserted, each producing its own event, or none is.
func (s *Service) CreateBulk(ctx context.Context, p access.Principal, table string, body json.RawMessage) ([]record.Value, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	desc, err := s.describeForWrite(ctx, p, table)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows(desc, body)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, desc, rows)
}

func (s *Service) create(ctx context.Context, desc *schema.TableDescriptor, rows []*row) ([]record.Value, error) {
	for _, r := range rows {
		if err := assignKey(desc, r); err != nil {
			return nil, err
		}
	}

	events, err := s.capture.Write(ctx, func(ctx context.Context, tx database.Tx) ([]changes.Mutation, error) {
		muts := make([]changes.Mutation, 0, len(rows))
		for _, r := range rows {
			rec, err := s.insert(ctx, tx, desc, r)
			if err != nil {
				return nil, err
			}
			muts = append(muts, changes.Mutation{Kind: changes.KindInsert, Table: desc.Name, Row: rec})
		}
		return muts, nil
	})
	if err != nil {
		return nil, errs.WithContext(err, desc.Name, "create")
	}

	pk := desc.PK().Name
	ids := make([]record.Value, len(events))
	for i, ev := range events {
		ids[i], _ = ev.Row.Get(pk)
	}
	return ids, nil
}

// insert writes r and reads back the stored row, defaults included.
func (s *Service) insert(ctx context.Context, tx database.Tx, desc *schema.TableDescriptor, r *row) (*record.Record, error) {
	d := s.db.Dialect()
	if d.SupportsReturning() {
		rs, err := database.QueryAll(ctx, tx, database.BuildInsert(d, desc.Name, r.cols, true), r.args()...)
		if err != nil {
			return nil, err
		}
		if len(rs.Rows) == 0 {
			return nil, errs.New(errs.ErrKindQueryFailed, "insert returned no row")
		}
		return desc.Record(rs.Columns, rs.Rows[0]), nil
	}

	res, err := tx.Exec(ctx, database.BuildInsert(d, desc.Name, r.cols, false), r.args()...)
	if err != nil {
		return nil, err
	}
	key, ok := r.get(desc.PK().Name)
	if !ok || key.IsNull() {
		key = record.Integer(res.LastInsertID)
	}
	return fetchOne(ctx, tx, d, desc, key)
}

// Update applies a partial update and returns the new row. The primary
// key may be repeated in the body but not changed.
func (s *Service) Update(ctx context.Context, p access.Principal, table, id string, body json.RawMessage) (*record.Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	desc, err := s.describeForWrite(ctx, p, table)
	if err != nil {
		return nil, err
	}
	key, err := ParseID(desc, id)
	if err != nil {
		return nil, err
	}
	r, err := decodeRow(desc, body)
	if err != nil {
		return nil, err
	}

	pk := desc.PK().Name
	set := &row{}
	for i, c := range r.cols {
		if c == pk {
			if !r.vals[i].Equal(key) {
				return nil, errs.New(errs.ErrKindInvalidInput, "primary key cannot be changed")
			}
			continue
		}
		set.cols = append(set.cols, c)
		set.vals = append(set.vals, r.vals[i])
	}
	if len(set.cols) == 0 {
		return nil, errs.New(errs.ErrKindInvalidInput, "no columns to update")
	}

	d := s.db.Dialect()
	events, err := s.capture.Write(ctx, func(ctx context.Context, tx database.Tx) ([]changes.Mutation, error) {
		res, err := tx.Exec(ctx, database.BuildUpdate(d, desc.Name, set.cols, pk), append(set.args(), key.Arg())...)
		if err != nil {
			return nil, err
		}
		if res.RowsAffected == 0 {
			return nil, errs.New(errs.ErrKindNotFound, "record not found")
		}
		rec, err := fetchOne(ctx, tx, d, desc, key)
		if err != nil {
			return nil, err
		}
		return []changes.Mutation{{Kind: changes.KindUpdate, Table: desc.Name, Row: rec}}, nil
	})
	if err != nil {
		return nil, errs.WithContext(err, desc.Name, "update")
	}
	return events[0].Row, nil
}

// Delete removes a record. Its event carries the row as it was.
func (s *Service) Delete(ctx context.Context, p access.Principal, table, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	desc, err := s.describeForWrite(ctx, p, table)
	if err != nil {
		return err
	}
	key, err := ParseID(desc, id)
	if err != nil {
		return err
	}

	d := s.db.Dialect()
	_, err = s.capture.Write(ctx, func(ctx context.Context, tx database.Tx) ([]changes.Mutation, error) {
		rec, err := fetchOne(ctx, tx, d, desc, key)
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, database.BuildDelete(d, desc.Name, desc.PK().Name), key.Arg()); err != nil {
			return nil, err
		}
		return []changes.Mutation{{Kind: changes.KindDelete, Table: desc.Name, Row: rec}}, nil
	})
	return errs.WithContext(err, desc.Name, "delete")
}
