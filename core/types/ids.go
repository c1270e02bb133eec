package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AccountID identifies a hub account. Ownership and delegation are managed
// outside the lending core.
type AccountID [32]byte

// LoanID identifies a user loan. It is derived from the owning account and a
// caller supplied nonce.
type LoanID [32]byte

// LoanTypeID identifies a risk bucket grouping a set of pools.
type LoanTypeID uint16

// PoolID identifies an asset pool.
type PoolID uint8

// DeriveLoanID returns keccak256(account || nonce).
func DeriveLoanID(account AccountID, nonce [4]byte) LoanID {
	buf := make([]byte, 0, len(account)+len(nonce))
	buf = append(buf, account[:]...)
	buf = append(buf, nonce[:]...)
	var id LoanID
	copy(id[:], ethcrypto.Keccak256(buf))
	return id
}

func (a AccountID) String() string { return "0x" + hex.EncodeToString(a[:]) }

// IsZero reports whether the identifier is unset.
func (a AccountID) IsZero() bool { return a == AccountID{} }

func (l LoanID) String() string { return "0x" + hex.EncodeToString(l[:]) }

// IsZero reports whether the identifier is unset.
func (l LoanID) IsZero() bool { return l == LoanID{} }

// ParseAccountID decodes a 0x-prefixed or bare 32 byte hex string.
func ParseAccountID(value string) (AccountID, error) {
	var id AccountID
	raw, err := decodeHex32(value)
	if err != nil {
		return id, fmt.Errorf("account id: %w", err)
	}
	copy(id[:], raw)
	return id, nil
}

// ParseLoanID decodes a 0x-prefixed or bare 32 byte hex string.
func ParseLoanID(value string) (LoanID, error) {
	var id LoanID
	raw, err := decodeHex32(value)
	if err != nil {
		return id, fmt.Errorf("loan id: %w", err)
	}
	copy(id[:], raw)
	return id, nil
}

func decodeHex32(value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	return raw, nil
}
