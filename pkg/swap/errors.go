package swap

import (
	"errors"
	"fmt"

	"github.com/ArkLabsHQ/boltz-swap/pkg/onchain"
)

var (
	ErrInvalidTransition = errors.New("invalid swap state transition")
	// ErrSwapExpired is returned while waiting for a lockup the server
	// will never publish.
	ErrSwapExpired = errors.New("swap expired")

	ErrMissingBlindingKey = onchain.ErrMissingBlindingKey
	ErrInvalidInput       = onchain.ErrInvalidInput
)

// LimitError is an amount outside the pair limits. It is raised before
// anything is sent to the server.
type LimitError struct {
	Amount  uint64
	Minimal uint64
	Maximal uint64
}

func (e *LimitError) Error() string {
	if e.Amount < e.Minimal {
		return fmt.Sprintf("amount %d is below the minimal swap amount of %d", e.Amount, e.Minimal)
	}
	return fmt.Sprintf("amount %d exceeds the maximal swap amount of %d", e.Amount, e.Maximal)
}
