package explorer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ArkLabsHQ/boltz-swap/pkg/onchain"
	"github.com/ArkLabsHQ/boltz-swap/utils"
	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

const DefaultPollInterval = 3 * time.Second

// LockupOutput is the output of a lockup transaction paying the swap
// script.
type LockupOutput struct {
	Txid      string
	Vout      uint32
	Value     uint64
	Script    []byte
	Confirmed bool
	TxHex     string
}

// Watcher layers the lockup discovery rules on top of a Service. Reads are
// retried every pollInterval on transient errors, broadcasts never are.
type Watcher struct {
	svc          Service
	tracker      *Tracker
	pollInterval time.Duration
}

// NewWatcher returns a watcher polling svc. When tracker is not nil, waits
// are driven by its websocket pushes instead of polling.
func NewWatcher(svc Service, tracker *Tracker, pollInterval time.Duration) *Watcher {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Watcher{svc: svc, tracker: tracker, pollInterval: pollInterval}
}

func (w *Watcher) Service() Service {
	return w.svc
}

func (w *Watcher) GetBlockHeight(ctx context.Context) (uint32, error) {
	var height uint32
	err := utils.Retry(ctx, w.pollInterval, func(ctx context.Context) (bool, error) {
		h, err := w.svc.GetBlockHeight(ctx)
		if err != nil {
			return false, err
		}
		height = h
		return true, nil
	})
	return height, err
}

// CheckBlockHeight fails with a *BlockHeightError while the chain tip is
// below target.
func (w *Watcher) CheckBlockHeight(ctx context.Context, target uint32) error {
	current, err := w.GetBlockHeight(ctx)
	if err != nil {
		return err
	}
	if current < target {
		return &BlockHeightError{Current: current, Target: target}
	}
	return nil
}

// GetFeeRate returns override when set, the backend estimate otherwise.
func (w *Watcher) GetFeeRate(ctx context.Context, override float64) (float64, error) {
	if override > 0 {
		return override, nil
	}
	var rate float64
	err := utils.Retry(ctx, w.pollInterval, func(ctx context.Context) (bool, error) {
		r, err := w.svc.GetFeeRate(ctx)
		if err != nil {
			return false, err
		}
		rate = r
		return true, nil
	})
	return rate, err
}

// FindOutput returns the first output of tx paying script, nil if none.
func FindOutput(tx *Transaction, script []byte) *LockupOutput {
	for i, out := range tx.Outputs {
		if bytes.Equal(out.Script, script) {
			return &LockupOutput{
				Txid:      tx.Txid,
				Vout:      uint32(i),
				Value:     out.Value,
				Script:    out.Script,
				Confirmed: tx.Confirmed,
			}
		}
	}
	return nil
}

// WaitForLockup looks for a transaction paying script among the ones of
// address and waits until one shows up.
func (w *Watcher) WaitForLockup(ctx context.Context, address string, script []byte) (*LockupOutput, error) {
	var lockup *LockupOutput
	find := func(txs []Transaction) {
		for i := range txs {
			if out := FindOutput(&txs[i], script); out != nil {
				lockup = out
				return
			}
		}
	}

	poll := func(ctx context.Context) (bool, error) {
		txs, err := w.svc.GetAddressTransactions(ctx, address)
		if err != nil {
			return false, err
		}
		find(txs)
		return lockup != nil, nil
	}

	if w.tracker == nil {
		log.Debugf("polling lockup transaction for %s", address)
		if err := utils.Retry(ctx, w.pollInterval, poll); err != nil {
			return nil, err
		}
	}
	for lockup == nil {
		txs, err := w.tracker.WaitForAddressTransactions(ctx, address, poll)
		if err != nil {
			return nil, err
		}
		find(txs)
	}

	if err := w.fillTxHex(ctx, lockup); err != nil {
		return nil, err
	}
	return lockup, nil
}

// WaitForOutput waits for txid to be known by the backend and returns its
// output paying script. A known transaction without such output fails with
// onchain.ErrLockupMismatch.
func (w *Watcher) WaitForOutput(ctx context.Context, txid string, script []byte) (*LockupOutput, error) {
	var lockup *LockupOutput
	err := utils.Retry(ctx, w.pollInterval, func(ctx context.Context) (bool, error) {
		tx, err := w.svc.GetTransaction(ctx, txid)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		lockup = FindOutput(tx, script)
		if lockup == nil {
			return false, backoff.Permanent(
				fmt.Errorf("%w: tx %s does not pay the swap script", onchain.ErrLockupMismatch, txid),
			)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if err := w.fillTxHex(ctx, lockup); err != nil {
		return nil, err
	}
	return lockup, nil
}

func (w *Watcher) WaitForConfirmation(ctx context.Context, txid string) error {
	confirmed := func(ctx context.Context) (bool, error) {
		tx, err := w.svc.GetTransaction(ctx, txid)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		return tx.Confirmed, nil
	}

	log.Debugf("waiting for confirmation of %s", txid)
	if w.tracker != nil {
		return w.tracker.WaitForTxConfirmed(ctx, txid, confirmed)
	}
	return utils.Retry(ctx, w.pollInterval, confirmed)
}

// Broadcast publishes txHex once. Rejections surface as *BroadcastError.
func (w *Watcher) Broadcast(ctx context.Context, txHex string) (string, error) {
	txid, err := w.svc.BroadcastTransaction(ctx, txHex)
	if err != nil {
		return "", err
	}
	log.Infof("broadcast transaction %s", txid)
	return txid, nil
}

func (w *Watcher) fillTxHex(ctx context.Context, lockup *LockupOutput) error {
	return utils.Retry(ctx, w.pollInterval, func(ctx context.Context) (bool, error) {
		txHex, err := w.svc.GetTransactionHex(ctx, lockup.Txid)
		if err != nil {
			return false, err
		}
		lockup.TxHex = txHex
		return true, nil
	})
}
