package query

import (
	"encoding/binary"
)

// Cursor is an opaque position in an id ordered result set. Ids are encoded
// big endian so byte order matches numeric order.
type Cursor []byte

// EmptyCursor starts a query from the beginning of the result set.
var EmptyCursor = Cursor{}

func ToCursor(id uint64) Cursor {
	c := make(Cursor, 8)
	binary.BigEndian.PutUint64(c, id)
	return c
}

func FromCursor(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func (c Cursor) ToUint64() uint64 {
	return FromCursor(c)
}
