// Package program defines the interface between on-chain programs and the
// runtime that executes them.
package program

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/code-payments/custody-program/pkg/solana"
	"github.com/code-payments/custody-program/pkg/solana/system"
)

// AccountInfo is a program's view of an account for the duration of an
// instruction. Programs mutate Lamports and Data in place; the runtime checks
// and commits the changes once the instruction returns.
type AccountInfo struct {
	Key   ed25519.PublicKey
	Owner ed25519.PublicKey

	Lamports   uint64
	Data       []byte
	Executable bool

	IsSigner   bool
	IsWritable bool
}

// IsOwnedBy reports whether the account is owned by program.
func (a *AccountInfo) IsOwnedBy(program ed25519.PublicKey) bool {
	return bytes.Equal(a.Owner, program)
}

// IsUninitialized reports whether the account has never been allocated, which
// is the case for system owned accounts with no data.
func (a *AccountInfo) IsUninitialized() bool {
	return a.IsOwnedBy(system.ProgramKey[:]) && len(a.Data) == 0
}

// Host is the runtime facing side of program execution.
type Host interface {
	// Log appends a line to the transaction's program logs.
	Log(format string, args ...interface{})

	// Invoke executes ix as a cross-program invocation. accounts must contain
	// every account referenced by ix. Changes made by the callee are visible
	// through accounts once Invoke returns.
	Invoke(ctx context.Context, ix solana.Instruction, accounts []*AccountInfo) error

	// InvokeSigned is Invoke, where each entry of signerSeeds derives a program
	// address from the calling program that is treated as a signer.
	InvokeSigned(ctx context.Context, ix solana.Instruction, accounts []*AccountInfo, signerSeeds ...[][]byte) error
}

// Entrypoint processes a single instruction addressed to programID.
type Entrypoint func(ctx context.Context, host Host, programID ed25519.PublicKey, accounts []*AccountInfo, data []byte) error

// NextAccountInfo returns the account at offset and advances it.
func NextAccountInfo(accounts []*AccountInfo, offset *int) (*AccountInfo, error) {
	if *offset >= len(accounts) {
		return nil, ErrNotEnoughAccountKeys
	}

	info := accounts[*offset]
	*offset += 1
	return info, nil
}

// FindAccountInfo returns the account with the provided key.
func FindAccountInfo(accounts []*AccountInfo, key ed25519.PublicKey) (*AccountInfo, bool) {
	for _, info := range accounts {
		if bytes.Equal(info.Key, key) {
			return info, true
		}
	}
	return nil, false
}
