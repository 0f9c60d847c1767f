package binary

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	key, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	buf := make([]byte, 1+4+8+ed25519.PublicKeySize)

	var offset int
	PutUint8(buf[offset:], 7, &offset)
	PutUint32(buf[offset:], 1<<20, &offset)
	PutUint64(buf[offset:], 1<<40, &offset)
	PutKey32(buf[offset:], key, &offset)
	assert.Equal(t, len(buf), offset)

	var (
		u8   uint8
		u32  uint32
		u64  uint64
		pub  ed25519.PublicKey
		read int
	)
	GetUint8(buf[read:], &u8, &read)
	GetUint32(buf[read:], &u32, &read)
	GetUint64(buf[read:], &u64, &read)
	GetKey32(buf[read:], &pub, &read)

	assert.Equal(t, len(buf), read)
	assert.EqualValues(t, 7, u8)
	assert.EqualValues(t, 1<<20, u32)
	assert.EqualValues(t, uint64(1)<<40, u64)
	assert.EqualValues(t, key, pub)
}

func TestPutUint64_LittleEndian(t *testing.T) {
	buf := make([]byte, 8)

	var offset int
	PutUint64(buf, 0x0102030405060708, &offset)
	assert.Equal(t, []byte{8, 7, 6, 5, 4, 3, 2, 1}, buf)
}
