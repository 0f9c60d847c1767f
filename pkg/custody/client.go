package custody

import (
	"bytes"
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/custody-program/pkg/solana"
)

// GetRecordedBalance returns the balance recorded in the owner's custody
// account, as seen by the RPC node.
func GetRecordedBalance(client solana.Client, owner ed25519.PublicKey) (uint64, error) {
	address, _, err := GetCustodyAddress(&GetCustodyAddressArgs{Owner: owner})
	if err != nil {
		return 0, errors.Wrap(err, "failed to derive custody address")
	}

	info, err := client.GetAccountInfo(address, solana.CommitmentProcessed)
	if err == solana.ErrNoAccountInfo {
		return 0, ErrCustodyAccountNotFound
	} else if err != nil {
		return 0, errors.Wrap(err, "failed to get custody account")
	}

	if !bytes.Equal(info.Owner, PROGRAM_ID) {
		return 0, ErrInvalidAccountOwner
	}

	var state CustodyAccount
	if err := state.Unmarshal(info.Data); err != nil {
		return 0, err
	}
	return state.Balance, nil
}
