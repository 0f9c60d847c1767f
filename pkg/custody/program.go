// Package custody implements a custodial ledger program. A user deposits
// lamports into a custody account derived from their address and may later
// withdraw up to the balance recorded in that account.
package custody

import (
	"crypto/ed25519"

	"github.com/code-payments/custody-program/pkg/solana"
	"github.com/code-payments/custody-program/pkg/solana/system"
)

var (
	PROGRAM_ADDRESS = solana.MustBase58Decode("Hp9dvGx2YfCS1X44fuN9DL9ByuJrGTaqHXgScRT5bMMv")
	PROGRAM_ID      = ed25519.PublicKey(PROGRAM_ADDRESS)
)

var (
	SYSTEM_PROGRAM_ID = ed25519.PublicKey(system.ProgramKey[:])
)

// Opcode is the first byte of every custody instruction.
type Opcode uint8

const (
	OpcodeDeposit Opcode = iota
	OpcodeWithdraw
)

func (o Opcode) String() string {
	switch o {
	case OpcodeDeposit:
		return "Deposit"
	case OpcodeWithdraw:
		return "Withdraw"
	}
	return "Unknown"
}
