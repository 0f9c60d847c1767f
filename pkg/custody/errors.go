package custody

import (
	"github.com/pkg/errors"

	"github.com/code-payments/custody-program/pkg/solana"
)

// Custom program errors, reported to clients as {"Custom": n}.
const (
	// The custody account was not passed as writable
	ErrCustodyNotWritable solana.CustomError = iota

	// The recorded balance would overflow
	ErrArithmeticOverflow
)

var (
	ErrInvalidInstructionData = errors.New("unexpected instruction data")
	ErrInvalidAccountData     = errors.New("unexpected account data")
	ErrInvalidAccountOwner    = errors.New("custody account is not owned by the program")
	ErrCustodyAccountNotFound = errors.New("custody account not found")
)
