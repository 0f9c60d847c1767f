package pebble

import (
	"time"

	"github.com/pkg/errors"

	"github.com/code-payments/custody-program/pkg/database/query"
	"github.com/code-payments/custody-program/pkg/ledger"
	"github.com/code-payments/custody-program/pkg/solana/binary"
)

const (
	accountPrefix    = 'a'
	ownerIndexPrefix = 'o'
	metadataPrefix   = 'm'

	keySeparator = 0x00

	fixedRecordSize = 8 + 8 + 1 + 8 + 8 + 4 + 4
)

var lastIdKey = []byte{metadataPrefix, keySeparator, 'l', 'a', 's', 't'}

func accountKey(address string) []byte {
	key := make([]byte, 0, 2+len(address))
	key = append(key, accountPrefix, keySeparator)
	return append(key, address...)
}

func ownerIndexPrefixKey(owner string) []byte {
	key := make([]byte, 0, 3+len(owner))
	key = append(key, ownerIndexPrefix, keySeparator)
	key = append(key, owner...)
	return append(key, keySeparator)
}

func ownerIndexKey(owner string, id uint64) []byte {
	prefix := ownerIndexPrefixKey(owner)

	return append(prefix, query.ToCursor(id)...)
}

// upperBound returns the smallest key greater than every key starting with prefix.
func upperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Layout:
//
//	id | lamports | executable | slot | last_updated_at | owner_len | data_len | owner | data
func marshalRecord(r *ledger.Record) []byte {
	b := make([]byte, fixedRecordSize+len(r.Owner)+len(r.Data))

	var executable uint8
	if r.Executable {
		executable = 1
	}

	var offset int
	binary.PutUint64(b[offset:], r.Id, &offset)
	binary.PutUint64(b[offset:], r.Lamports, &offset)
	binary.PutUint8(b[offset:], executable, &offset)
	binary.PutUint64(b[offset:], r.Slot, &offset)
	binary.PutUint64(b[offset:], uint64(r.LastUpdatedAt.UnixNano()), &offset)
	binary.PutUint32(b[offset:], uint32(len(r.Owner)), &offset)
	binary.PutUint32(b[offset:], uint32(len(r.Data)), &offset)
	offset += copy(b[offset:], r.Owner)
	copy(b[offset:], r.Data)

	return b
}

func unmarshalRecord(address string, b []byte) (*ledger.Record, error) {
	if len(b) < fixedRecordSize {
		return nil, errors.Errorf("invalid record size: %d", len(b))
	}

	var (
		r                 = &ledger.Record{Address: address}
		executable        uint8
		lastUpdatedAt     uint64
		ownerLen, dataLen uint32
		offset            int
	)
	binary.GetUint64(b[offset:], &r.Id, &offset)
	binary.GetUint64(b[offset:], &r.Lamports, &offset)
	binary.GetUint8(b[offset:], &executable, &offset)
	binary.GetUint64(b[offset:], &r.Slot, &offset)
	binary.GetUint64(b[offset:], &lastUpdatedAt, &offset)
	binary.GetUint32(b[offset:], &ownerLen, &offset)
	binary.GetUint32(b[offset:], &dataLen, &offset)

	if len(b) != fixedRecordSize+int(ownerLen)+int(dataLen) {
		return nil, errors.Errorf("invalid record size: %d", len(b))
	}

	r.Executable = executable == 1
	r.LastUpdatedAt = time.Unix(0, int64(lastUpdatedAt))
	r.Owner = string(b[offset : offset+int(ownerLen)])
	offset += int(ownerLen)
	r.Data = make([]byte, dataLen)
	copy(r.Data, b[offset:])

	return r, nil
}
