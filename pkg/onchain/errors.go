package onchain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput covers caller mistakes that must not be retried:
	// unknown pair, fee not below the lockup value, malformed hex and so on.
	ErrInvalidInput = errors.New("invalid input")

	ErrMissingBlindingKey = fmt.Errorf("%w: blinding key is required for confidential chains", ErrInvalidInput)

	// ErrWrongAsset is returned when an unblinded lockup output does not
	// carry the chain's native asset.
	ErrWrongAsset = errors.New("lockup output asset does not match the native asset")

	ErrLockupMismatch = errors.New("lockup address does not commit to the redeem script")
)

type AddressValidationError struct {
	Address string
	Network string
	Reason  string
}

func (e *AddressValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("address %s is not valid for network %s", e.Address, e.Network)
	}
	return fmt.Sprintf("address %s is not valid for network %s: %s", e.Address, e.Network, e.Reason)
}

// LockupValueError is returned when a lockup output holds less than the
// amount the counterparty committed to lock.
type LockupValueError struct {
	Value   uint64
	Minimum uint64
}

func (e *LockupValueError) Error() string {
	return fmt.Sprintf("lockup of %d sats is below the expected %d", e.Value, e.Minimum)
}

func (e *LockupValueError) Unwrap() error {
	return ErrLockupMismatch
}
