package swap

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ArkLabsHQ/boltz-swap/pkg/boltz"
	"github.com/ArkLabsHQ/boltz-swap/pkg/explorer"
	"github.com/ArkLabsHQ/boltz-swap/pkg/onchain"
	"github.com/ArkLabsHQ/boltz-swap/utils"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/lightningnetwork/lnd/input"
	log "github.com/sirupsen/logrus"
)

// CreateSwap creates a submarine swap paying invoice. The returned key is
// the only way to refund the lockup and must be stored by the caller.
func (c *Client) CreateSwap(
	ctx context.Context, invoice string,
) (*onchain.KeyPair, *boltz.CreateSwapResponse, error) {
	if len(invoice) == 0 {
		return nil, nil, fmt.Errorf("%w: missing invoice", ErrInvalidInput)
	}
	amount, paymentHash, err := utils.DecodeInvoice(invoice)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	if err := CheckLimits(c.cc.Pair, amount); err != nil {
		return nil, nil, err
	}

	keys, err := onchain.GenerateKeyPair(c.cc.Chain)
	if err != nil {
		return nil, nil, err
	}

	swap, err := c.boltzSvc.CreateSwap(ctx, boltz.CreateSwapRequest{
		PairId:          c.cc.PairId,
		Invoice:         invoice,
		RefundPublicKey: keys.PublicKey,
		ReferralId:      c.cc.ReferralId,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to make submarine swap: %w", err)
	}

	if err := c.verifySwap(swap, keys, input.Ripemd160H(paymentHash)); err != nil {
		return nil, nil, err
	}

	log.WithField("swap", swap.Id).Infof(
		"created submarine swap: send %d sats to %s before block %d",
		swap.ExpectedAmount, swap.Address, swap.TimeoutBlockHeight,
	)
	return keys, swap, nil
}

// verifySwap makes sure the redeem script and lockup address of a
// submarine swap are the ones we agreed on before anything gets funded.
func (c *Client) verifySwap(swap *boltz.CreateSwapResponse, keys *onchain.KeyPair, preimageHash160 []byte) error {
	redeemScript, err := decodeHex("redeem script", swap.RedeemScript)
	if err != nil {
		return err
	}
	script, err := onchain.ParseSwapScript(redeemScript)
	if err != nil {
		return err
	}
	if script.Reverse {
		return fmt.Errorf("%w: got a reverse swap script for a submarine swap", onchain.ErrLockupMismatch)
	}
	refundKey, err := parsePubkey(keys.PublicKey)
	if err != nil {
		return err
	}
	if !script.RefundPubKey.IsEqual(refundKey) {
		return fmt.Errorf("%w: refund key is not ours", onchain.ErrLockupMismatch)
	}
	if !bytes.Equal(script.PreimageHash, preimageHash160) {
		return fmt.Errorf("%w: hash lock does not match the invoice", onchain.ErrLockupMismatch)
	}
	if script.TimeoutBlockHeight != swap.TimeoutBlockHeight {
		return fmt.Errorf(
			"%w: script timeout %d, announced %d",
			onchain.ErrLockupMismatch, script.TimeoutBlockHeight, swap.TimeoutBlockHeight,
		)
	}
	if _, err := onchain.VerifyLockupAddress(swap.Address, redeemScript, c.cc.Chain); err != nil {
		return fmt.Errorf("boltz is trying to scam us: %w", err)
	}
	return nil
}

type RefundRequest struct {
	// SwapId lets the lockup be looked up via the server. Without it the
	// lockup address is scanned.
	SwapId        string
	LockupAddress string
	// RedeemScript is hex encoded.
	RedeemScript string
	// TimeoutBlockHeight defaults to the one of the redeem script.
	TimeoutBlockHeight uint32
	ReceiveAddress     string
	// PrivateKey is the WIF refund key returned by CreateSwap.
	PrivateKey  string
	BlindingKey string
}

type refundInput struct {
	redeemScript []byte
	lockupScript []byte
	receive      string
	key          *btcec.PrivateKey
	timeout      uint32
	blindingKey  []byte
	nativeSegwit bool
}

func (c *Client) parseRefundRequest(req RefundRequest) (*refundInput, error) {
	chain := c.cc.Chain

	in := &refundInput{}
	var err error
	if chain.Kind == onchain.Confidential {
		if req.BlindingKey == "" {
			return nil, ErrMissingBlindingKey
		}
		if in.blindingKey, err = decodeHex("blinding key", req.BlindingKey); err != nil {
			return nil, err
		}
	}
	if in.receive, err = onchain.ValidateAddress(req.ReceiveAddress, chain); err != nil {
		return nil, err
	}
	if in.redeemScript, err = decodeHex("redeem script", req.RedeemScript); err != nil {
		return nil, err
	}
	if in.key, err = onchain.ParsePrivateKey(chain, req.PrivateKey); err != nil {
		return nil, err
	}
	if in.lockupScript, err = onchain.VerifyLockupAddress(req.LockupAddress, in.redeemScript, chain); err != nil {
		return nil, err
	}

	script, err := onchain.ParseSwapScript(in.redeemScript)
	if err != nil {
		return nil, err
	}
	if script.Reverse {
		return nil, fmt.Errorf("%w: cannot refund a reverse swap", ErrInvalidInput)
	}
	if !script.RefundPubKey.IsEqual(in.key.PubKey()) {
		return nil, fmt.Errorf("%w: private key does not match the refund key of the script", ErrInvalidInput)
	}
	in.timeout = script.TimeoutBlockHeight
	if req.TimeoutBlockHeight != 0 && req.TimeoutBlockHeight != in.timeout {
		return nil, fmt.Errorf(
			"%w: timeout %d does not match the script timeout %d",
			ErrInvalidInput, req.TimeoutBlockHeight, in.timeout,
		)
	}

	p2wsh, _, err := onchain.LockupScripts(in.redeemScript)
	if err != nil {
		return nil, err
	}
	in.nativeSegwit = bytes.Equal(p2wsh, in.lockupScript)
	return in, nil
}

// RefundSwap sends the lockup of an expired submarine swap back to the
// receive address. It fails with an *explorer.BlockHeightError, without
// touching the lockup, until the chain reaches the swap timeout.
func (c *Client) RefundSwap(ctx context.Context, req RefundRequest) (string, error) {
	in, err := c.parseRefundRequest(req)
	if err != nil {
		return "", err
	}
	if err := c.watcher.CheckBlockHeight(ctx, in.timeout); err != nil {
		return "", err
	}

	id := req.SwapId
	if id == "" {
		id = req.LockupAddress
	}
	lc := newLifecycle(id, "refund", c.cfg.OnStateChange)
	if err := lc.transition(StateAwaitingLockup); err != nil {
		return "", err
	}

	lockup, err := c.waitForUserLockup(ctx, req.SwapId, req.LockupAddress, in.lockupScript)
	if err != nil {
		return "", lc.fail(err, false)
	}
	if err := verifyLockup(c.cc.Chain, lockup, in.lockupScript); err != nil {
		return "", lc.fail(err, false)
	}
	if !lockup.Confirmed {
		if err := lc.transition(StateAwaitingConfirmation); err != nil {
			return "", lc.fail(err, false)
		}
		if err := c.watcher.WaitForConfirmation(ctx, lockup.Txid); err != nil {
			return "", lc.fail(err, false)
		}
	}

	fee, err := c.RefundFee(ctx, in.redeemScript)
	if err != nil {
		return "", lc.fail(err, false)
	}

	params, err := onchain.NewRefundParams(
		lockup.TxHex, lockup.Vout, in.redeemScript, in.receive, in.key, in.timeout, fee, in.blindingKey,
	)
	if err != nil {
		return "", lc.fail(err, false)
	}
	if in.nativeSegwit {
		params.ScriptSig = nil
	}

	return c.buildAndBroadcast(ctx, lc, params)
}

// waitForUserLockup returns the output funding a submarine swap, found
// through the server when swapId is set.
func (c *Client) waitForUserLockup(
	ctx context.Context, swapId, lockupAddress string, script []byte,
) (*explorer.LockupOutput, error) {
	if swapId == "" {
		return c.watcher.WaitForLockup(ctx, lockupAddress, script)
	}

	var txid string
	err := utils.Retry(ctx, c.cc.PollInterval, func(ctx context.Context) (bool, error) {
		resp, err := c.boltzSvc.SwapTransaction(ctx, swapId)
		if err != nil {
			var txErr *boltz.SwapTransactionError
			if !errors.As(err, &txErr) || resp.TransactionHex == "" {
				return false, lockupLookupError(err)
			}
		}
		if resp.TransactionHex == "" {
			return false, nil
		}
		id, err := onchain.TxID(c.cc.Chain, resp.TransactionHex)
		if err != nil {
			return false, backoff.Permanent(err)
		}
		txid = id
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	log.WithField("swap", swapId).Debugf("lockup transaction %s", txid)
	return c.watcher.WaitForOutput(ctx, txid, script)
}

// lockupLookupError keeps polling on transient failures and on the server
// not knowing the lockup yet. Unknown swaps and failed swaps are final.
func lockupLookupError(err error) error {
	var txErr *boltz.SwapTransactionError
	if errors.Is(err, boltz.ErrNotFound) || errors.As(err, &txErr) {
		return backoff.Permanent(err)
	}
	return err
}

// buildAndBroadcast signs the spend and publishes it. Nothing here
// observes ctx before the broadcast call.
func (c *Client) buildAndBroadcast(ctx context.Context, lc *lifecycle, params onchain.SpendParams) (string, error) {
	spend, err := onchain.BuildSpendTx(c.cc.Chain, params)
	if err != nil {
		return "", lc.fail(err, false)
	}
	if err := lc.transition(StateSpendBuilt); err != nil {
		return "", lc.fail(err, false)
	}
	if err := lc.transition(StateBroadcast); err != nil {
		return "", lc.fail(err, false)
	}

	txid, err := c.broadcast(ctx, spend)
	if err != nil {
		return "", lc.fail(err, false)
	}
	if err := lc.transition(StateSettled); err != nil {
		return "", err
	}

	lc.log.Infof("spent lockup output %d in %s", params.Vout, txid)
	return txid, nil
}
