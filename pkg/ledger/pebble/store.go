package pebble

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"github.com/code-payments/custody-program/pkg/database/query"
	"github.com/code-payments/custody-program/pkg/ledger"
)

type store struct {
	db *pebble.DB

	// Serializes writers so stale slot checks and id assignment see a
	// consistent view. Readers go straight to pebble.
	mu   sync.Mutex
	last uint64
}

// Open opens a pebble database at dirname and returns a ledger.Store backed by
// it, along with the database so the caller can close it.
func Open(dirname string, opts *pebble.Options) (ledger.Store, *pebble.DB, error) {
	if opts == nil {
		opts = &pebble.Options{
			Cache:        pebble.NewCache(64 * 1024 * 1024), // 64MB
			MemTableSize: 32 * 1024 * 1024,                  // 32MB
		}
	}

	db, err := pebble.Open(dirname, opts)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open pebble db")
	}

	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return s, db, nil
}

// New returns a new pebble backed ledger.Store
func New(db *pebble.DB) (ledger.Store, error) {
	s := &store{db: db}

	value, closer, err := db.Get(lastIdKey)
	if err == pebble.ErrNotFound {
		return s, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to load last id")
	}
	defer closer.Close()

	if len(value) != 8 {
		return nil, errors.Errorf("invalid last id size: %d", len(value))
	}
	s.last = query.FromCursor(value)

	return s, nil
}

func (s *store) reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteRange([]byte{0x00}, []byte{0xff}, pebble.Sync); err != nil {
		return err
	}
	s.last = 0
	return nil
}

// Get implements ledger.Store.Get
func (s *store) Get(_ context.Context, address string) (*ledger.Record, error) {
	return s.get(address)
}

func (s *store) get(address string) (*ledger.Record, error) {
	value, closer, err := s.db.Get(accountKey(address))
	if err == pebble.ErrNotFound {
		return nil, ledger.ErrAccountNotFound
	} else if err != nil {
		return nil, err
	}
	defer closer.Close()

	return unmarshalRecord(address, value)
}

// Save implements ledger.Store.Save
func (s *store) Save(_ context.Context, records ...*ledger.Record) error {
	if len(records) == 0 {
		return nil
	}

	for _, record := range records {
		if err := record.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	now := time.Now()
	last := s.last
	pending := make(map[string]*ledger.Record)
	updated := make([]*ledger.Record, len(records))

	for i, record := range records {
		existing, ok := pending[record.Address]
		if !ok {
			stored, err := s.get(record.Address)
			if err != nil && err != ledger.ErrAccountNotFound {
				return err
			}
			existing = stored
		}

		var id uint64
		if existing != nil {
			if record.Slot < existing.Slot {
				return ledger.ErrStaleSlot
			}

			id = existing.Id
			if existing.Owner != record.Owner {
				if err := batch.Delete(ownerIndexKey(existing.Owner, id), nil); err != nil {
					return err
				}
			}
		} else {
			last++
			id = last
		}

		cloned := record.Clone()
		cloned.Id = id
		cloned.LastUpdatedAt = now

		if err := batch.Set(accountKey(cloned.Address), marshalRecord(&cloned), nil); err != nil {
			return err
		}
		if err := batch.Set(ownerIndexKey(cloned.Owner, id), []byte(cloned.Address), nil); err != nil {
			return err
		}

		pending[cloned.Address] = &cloned
		updated[i] = &cloned
	}

	if last != s.last {
		if err := batch.Set(lastIdKey, query.ToCursor(last), nil); err != nil {
			return err
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "failed to commit batch")
	}
	s.last = last

	for i, record := range records {
		record.Id = updated[i].Id
		record.LastUpdatedAt = updated[i].LastUpdatedAt
	}
	return nil
}

// GetAllByOwner implements ledger.Store.GetAllByOwner
func (s *store) GetAllByOwner(_ context.Context, owner string, cursor query.Cursor, limit uint64, direction query.Ordering) ([]*ledger.Record, error) {
	paging, err := ledger.PagingOptions(cursor, limit, direction)
	if err != nil {
		return nil, err
	}
	cursor, limit, direction = paging.Cursor, paging.Limit, paging.SortBy

	prefix := ownerIndexPrefixKey(owner)

	opts := &pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	}
	if len(cursor) > 0 {
		if direction == query.Ascending {
			opts.LowerBound = ownerIndexKey(owner, cursor.ToUint64()+1)
		} else {
			opts.UpperBound = ownerIndexKey(owner, cursor.ToUint64())
		}
	}

	iter, err := s.db.NewIter(opts)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	next := iter.Next
	valid := iter.First()
	if direction == query.Descending {
		next = iter.Prev
		valid = iter.Last()
	}

	var res []*ledger.Record
	for ; valid; valid = next() {
		if limit > 0 && uint64(len(res)) >= limit {
			break
		}

		record, err := s.get(string(iter.Value()))
		if err != nil {
			return nil, errors.Wrap(err, "owner index references missing account")
		}
		res = append(res, record)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, ledger.ErrAccountNotFound
	}
	return res, nil
}

// Count implements ledger.Store.Count
func (s *store) Count(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Accounts are never removed, so ids are dense.
	return s.last, nil
}
