package program

import (
	"github.com/pkg/errors"

	"github.com/code-payments/custody-program/pkg/solana"
)

// Errors a program may return. Each error's message is the instruction error
// key reported to clients; custom program failures use solana.CustomError.
var (
	ErrInvalidArgument          = newInstructionError(solana.InstructionErrorInvalidArgument)
	ErrInvalidInstructionData   = newInstructionError(solana.InstructionErrorInvalidInstructionData)
	ErrInvalidAccountData       = newInstructionError(solana.InstructionErrorInvalidAccountData)
	ErrAccountDataTooSmall      = newInstructionError(solana.InstructionErrorAccountDataTooSmall)
	ErrInsufficientFunds        = newInstructionError(solana.InstructionErrorInsufficientFunds)
	ErrIncorrectProgramID       = newInstructionError(solana.InstructionErrorIncorrectProgramID)
	ErrMissingRequiredSignature = newInstructionError(solana.InstructionErrorMissingRequiredSignature)
	ErrUninitializedAccount     = newInstructionError(solana.InstructionErrorUninitializedAccount)
	ErrNotEnoughAccountKeys     = newInstructionError(solana.InstructionErrorNotEnoughAccountKeys)
	ErrMissingAccount           = newInstructionError(solana.InstructionErrorMissingAccount)
	ErrInvalidSeeds             = newInstructionError(solana.InstructionErrorInvalidSeeds)
	ErrCallDepth                = newInstructionError(solana.InstructionErrorCallDepth)
	ErrUnsupportedProgramID     = newInstructionError(solana.InstructionErrorUnsupportedProgramID)
	ErrReentrancyNotAllowed     = newInstructionError(solana.InstructionErrorReentrancyNotAllowed)
	ErrAccountNotExecutable     = newInstructionError(solana.InstructionErrorAccountNotExecutable)
	ErrPrivilegeEscalation      = newInstructionError(solana.InstructionErrorPrivilegeEscalation)

	ErrReadonlyLamportChange       = newInstructionError(solana.InstructionErrorReadonlyLamportChange)
	ErrReadonlyDataModified        = newInstructionError(solana.InstructionErrorReadonlyDataModified)
	ErrExternalAccountLamportSpend = newInstructionError(solana.InstructionErrorExternalAccountLamportSpend)
	ErrExternalAccountDataModified = newInstructionError(solana.InstructionErrorExternalAccountDataModified)
	ErrModifiedProgramID           = newInstructionError(solana.InstructionErrorModifiedProgramID)
	ErrAccountDataSizeChanged      = newInstructionError(solana.InstructionErrorAccountDataSizeChanged)
	ErrExecutableModified          = newInstructionError(solana.InstructionErrorExecutableModified)
	ErrUnbalancedInstruction       = newInstructionError(solana.InstructionErrorUnbalancedInstruction)
)

// ErrAccountAlreadyInUse is returned by the system program when creating an
// account that already exists.
var ErrAccountAlreadyInUse error = solana.CustomError(0)

func newInstructionError(key solana.InstructionErrorKey) error {
	return errors.New(string(key))
}

// ErrorKey returns the instruction error key for err, unwrapping it first.
// Custom errors map to InstructionErrorCustom.
func ErrorKey(err error) solana.InstructionErrorKey {
	cause := errors.Cause(err)
	if _, ok := cause.(solana.CustomError); ok {
		return solana.InstructionErrorCustom
	}
	if solana.IsInstructionErrorKey(cause.Error()) {
		return solana.InstructionErrorKey(cause.Error())
	}
	return solana.InstructionErrorInvalidError
}
