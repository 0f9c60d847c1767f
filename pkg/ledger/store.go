package ledger

import (
	"context"
	"errors"

	"github.com/code-payments/custody-program/pkg/database/query"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrStaleSlot       = errors.New("record slot is older than the stored slot")
)

type Store interface {
	// Get returns the account stored at address. ErrAccountNotFound is returned
	// if no record exists.
	Get(ctx context.Context, address string) (*Record, error)

	// Save upserts every record in a single atomic write. Either all records are
	// persisted or none are. Records with a slot older than the stored record
	// fail with ErrStaleSlot. On success each record's Id and LastUpdatedAt are
	// set from the stored value.
	Save(ctx context.Context, records ...*Record) error

	// GetAllByOwner pages through the accounts owned by owner, ordered by Id.
	// ErrAccountNotFound is returned if the page is empty.
	GetAllByOwner(ctx context.Context, owner string, cursor query.Cursor, limit uint64, direction query.Ordering) ([]*Record, error)

	// Count returns the number of stored accounts.
	Count(ctx context.Context) (uint64, error)
}

// PagingOptions validates the paging arguments of GetAllByOwner. A zero
// limit selects the default page size.
func PagingOptions(cursor query.Cursor, limit uint64, direction query.Ordering) (*query.QueryOptions, error) {
	opts := []query.Option{query.WithCursor(cursor), query.WithDirection(direction)}
	if limit > 0 {
		opts = append(opts, query.WithLimit(limit))
	}
	return query.DefaultPaginationHandler(opts...)
}
