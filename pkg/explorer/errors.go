package explorer

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

// BlockHeightError reports a timeout height the chain has not reached yet.
type BlockHeightError struct {
	Current uint32
	Target  uint32
}

func (e *BlockHeightError) Error() string {
	return fmt.Sprintf("current block height %d has not yet reached %d", e.Current, e.Target)
}

// BroadcastError is a transaction rejected by the chain backend.
type BroadcastError struct {
	Reason string
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("broadcast rejected: %s", e.Reason)
}
