package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/code-payments/custody-program/pkg/database/query"
	"github.com/code-payments/custody-program/pkg/ledger"
)

type store struct {
	db *sqlx.DB
}

// New returns a new postgres backed ledger.Store
func New(db *sql.DB) ledger.Store {
	return &store{
		db: sqlx.NewDb(db, "pgx"),
	}
}

// Get implements ledger.Store.Get
func (s *store) Get(ctx context.Context, address string) (*ledger.Record, error) {
	m, err := dbGet(ctx, s.db, address)
	if err != nil {
		return nil, err
	}
	return fromModel(m), nil
}

// Save implements ledger.Store.Save
func (s *store) Save(ctx context.Context, records ...*ledger.Record) error {
	if len(records) == 0 {
		return nil
	}

	models := make([]*model, len(records))
	for i, record := range records {
		m, err := toModel(record)
		if err != nil {
			return err
		}
		models[i] = m
	}

	if err := dbSaveAll(ctx, s.db, models...); err != nil {
		return err
	}

	for i, m := range models {
		records[i].Id = uint64(m.Id.Int64)
		records[i].LastUpdatedAt = m.LastUpdatedAt
	}
	return nil
}

// GetAllByOwner implements ledger.Store.GetAllByOwner
func (s *store) GetAllByOwner(ctx context.Context, owner string, cursor query.Cursor, limit uint64, direction query.Ordering) ([]*ledger.Record, error) {
	paging, err := ledger.PagingOptions(cursor, limit, direction)
	if err != nil {
		return nil, err
	}

	models, err := dbGetAllByOwner(ctx, s.db, owner, paging.Cursor, paging.Limit, paging.SortBy)
	if err != nil {
		return nil, err
	}

	res := make([]*ledger.Record, len(models))
	for i, m := range models {
		res[i] = fromModel(m)
	}
	return res, nil
}

// Count implements ledger.Store.Count
func (s *store) Count(ctx context.Context) (uint64, error) {
	return dbCount(ctx, s.db)
}
