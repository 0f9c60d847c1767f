package custody

import (
	"crypto/ed25519"

	"github.com/code-payments/custody-program/pkg/solana"
)

var (
	custodyPrefix = []byte("custody")
)

type GetCustodyAddressArgs struct {
	Owner ed25519.PublicKey
}

// GetCustodyAddress returns the custody account address and bump for the
// owner under PROGRAM_ID.
func GetCustodyAddress(args *GetCustodyAddressArgs) (ed25519.PublicKey, uint8, error) {
	return deriveCustodyAddress(PROGRAM_ID, args.Owner)
}

func deriveCustodyAddress(programID, owner ed25519.PublicKey) (ed25519.PublicKey, uint8, error) {
	return solana.FindProgramAddressAndBump(
		programID,
		custodyPrefix,
		owner,
	)
}

func custodySignerSeeds(owner ed25519.PublicKey, bump uint8) [][]byte {
	return [][]byte{
		custodyPrefix,
		owner,
		{bump},
	}
}
