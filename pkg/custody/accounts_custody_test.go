package custody

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustodyAccount_Layout(t *testing.T) {
	state := CustodyAccount{Balance: 0x0102030405060708}
	assert.Equal(t, []byte{8, 7, 6, 5, 4, 3, 2, 1}, state.Marshal())

	var decoded CustodyAccount
	require.NoError(t, decoded.Unmarshal([]byte{8, 7, 6, 5, 4, 3, 2, 1, 0xff, 0xff}))
	assert.Equal(t, state, decoded)

	assert.Equal(t, ErrInvalidAccountData, decoded.Unmarshal(make([]byte, 7)))
	assert.Equal(t, state, decoded)
}
