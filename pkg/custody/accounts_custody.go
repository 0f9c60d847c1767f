package custody

import (
	"github.com/near/borsh-go"
	"github.com/pkg/errors"
)

const CustodyAccountSize = (8) // balance

// CustodyAccount is the state stored at the start of a custody account.
// Balance is the amount the program considers withdrawable, which never
// exceeds the lamports held by the account.
type CustodyAccount struct {
	Balance uint64
}

func (obj *CustodyAccount) Marshal() []byte {
	data, err := borsh.Serialize(*obj)
	if err != nil {
		// A struct of fixed width integers always serializes.
		panic(err)
	}
	return data
}

func (obj *CustodyAccount) Unmarshal(data []byte) error {
	if len(data) < CustodyAccountSize {
		return ErrInvalidAccountData
	}

	var state CustodyAccount
	if err := borsh.Deserialize(&state, data[:CustodyAccountSize]); err != nil {
		return errors.Wrap(err, "failed to deserialize custody account")
	}

	*obj = state
	return nil
}
