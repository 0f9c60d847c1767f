package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/code-payments/custody-program/pkg/database/query"
	"github.com/code-payments/custody-program/pkg/ledger"
)

type store struct {
	mu        sync.Mutex
	records   []*ledger.Record
	byAddress map[string]*ledger.Record
	last      uint64
}

// New returns a new in memory ledger.Store
func New() ledger.Store {
	return &store{
		byAddress: make(map[string]*ledger.Record),
	}
}

func (s *store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	s.byAddress = make(map[string]*ledger.Record)
	s.last = 0
}

// Get implements ledger.Store.Get
func (s *store) Get(_ context.Context, address string) (*ledger.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.byAddress[address]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}

	cloned := item.Clone()
	return &cloned, nil
}

// Save implements ledger.Store.Save
func (s *store) Save(_ context.Context, records ...*ledger.Record) error {
	for _, record := range records {
		if err := record.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range records {
		if item, ok := s.byAddress[record.Address]; ok && record.Slot < item.Slot {
			return ledger.ErrStaleSlot
		}
	}

	now := time.Now()
	for _, record := range records {
		item, ok := s.byAddress[record.Address]
		if !ok {
			s.last++

			item = &ledger.Record{Id: s.last}
			s.records = append(s.records, item)
			s.byAddress[record.Address] = item
		}

		id := item.Id
		record.CopyTo(item)
		item.Id = id
		item.LastUpdatedAt = now

		record.Id = id
		record.LastUpdatedAt = now
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

	s.mu.Lock()
	defer s.mu.Unlock()

	var start uint64
	if direction == query.Descending {
		start = s.last + 1
	}
	if len(cursor) > 0 {
		start = cursor.ToUint64()
	}

	var res []*ledger.Record
	for _, item := range s.records {
		if item.Owner != owner {
			continue
		}

		if direction == query.Ascending && item.Id <= start {
			continue
		}
		if direction == query.Descending && item.Id >= start {
			continue
		}

		cloned := item.Clone()
		res = append(res, &cloned)
	}

	if direction == query.Ascending {
		sort.Slice(res, func(i, j int) bool { return res[i].Id < res[j].Id })
	} else {
		sort.Slice(res, func(i, j int) bool { return res[i].Id > res[j].Id })
	}

	if len(res) == 0 {
		return nil, ledger.ErrAccountNotFound
	}

	if limit > 0 && uint64(len(res)) > limit {
		res = res[:limit]
	}
	return res, nil
}

// Count implements ledger.Store.Count
func (s *store) Count(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return uint64(len(s.records)), nil
}
