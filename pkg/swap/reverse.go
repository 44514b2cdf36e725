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
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ReverseSwap bundles what is needed to claim a reverse swap. KeyPair and
// Preimage are never sent to the server and must be kept by the caller.
type ReverseSwap struct {
	KeyPair  *onchain.KeyPair
	Preimage *onchain.Preimage
	*boltz.CreateReverseSwapResponse
}

// CreateReverseSwap creates a reverse swap for an invoice of amount sats.
// Amounts outside the pair limits fail with a *LimitError before anything
// is sent to the server.
func (c *Client) CreateReverseSwap(ctx context.Context, amount uint64) (*ReverseSwap, error) {
	if err := CheckLimits(c.cc.Pair, amount); err != nil {
		return nil, err
	}

	keys, err := onchain.GenerateKeyPair(c.cc.Chain)
	if err != nil {
		return nil, err
	}
	preimage, err := onchain.GeneratePreimage()
	if err != nil {
		return nil, err
	}

	swap, err := c.boltzSvc.CreateReverseSwap(ctx, boltz.CreateReverseSwapRequest{
		PairId:         c.cc.PairId,
		InvoiceAmount:  amount,
		PreimageHash:   preimage.Hash,
		ClaimPublicKey: keys.PublicKey,
		ReferralId:     c.cc.ReferralId,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to make reverse submarine swap: %w", err)
	}

	if err := c.verifyReverseSwap(swap, keys, preimage, amount); err != nil {
		return nil, err
	}

	log.WithField("swap", swap.Id).Infof(
		"created reverse swap: pay invoice to receive %d sats at %s",
		swap.OnchainAmount, swap.LockupAddress,
	)
	return &ReverseSwap{KeyPair: keys, Preimage: preimage, CreateReverseSwapResponse: swap}, nil
}

func (c *Client) verifyReverseSwap(
	swap *boltz.CreateReverseSwapResponse, keys *onchain.KeyPair, preimage *onchain.Preimage, amount uint64,
) error {
	redeemScript, err := decodeHex("redeem script", swap.RedeemScript)
	if err != nil {
		return err
	}
	script, err := onchain.ParseSwapScript(redeemScript)
	if err != nil {
		return err
	}
	if !script.Reverse {
		return fmt.Errorf("%w: got a submarine swap script for a reverse swap", onchain.ErrLockupMismatch)
	}
	claimKey, err := parsePubkey(keys.PublicKey)
	if err != nil {
		return err
	}
	if !script.ClaimPubKey.IsEqual(claimKey) {
		return fmt.Errorf("%w: claim key is not ours", onchain.ErrLockupMismatch)
	}
	preimageBytes, err := decodeHex("preimage", preimage.Preimage)
	if err != nil {
		return err
	}
	if err := validatePreimage(preimageBytes, script.PreimageHash); err != nil {
		return fmt.Errorf("%w: %s", onchain.ErrLockupMismatch, err)
	}
	if script.TimeoutBlockHeight != swap.TimeoutBlockHeight {
		return fmt.Errorf(
			"%w: script timeout %d, announced %d",
			onchain.ErrLockupMismatch, script.TimeoutBlockHeight, swap.TimeoutBlockHeight,
		)
	}
	if _, err := onchain.VerifyLockupAddress(swap.LockupAddress, redeemScript, c.cc.Chain); err != nil {
		return fmt.Errorf("boltz is trying to scam us: %w", err)
	}

	// verify preimage hash and invoice amount
	invoiceAmount, paymentHash, err := utils.DecodeInvoice(swap.Invoice)
	if err != nil {
		return fmt.Errorf("failed to decode invoice: %w", err)
	}
	expectedHash, err := decodeHex("preimage hash", preimage.Hash)
	if err != nil {
		return err
	}
	if !bytes.Equal(paymentHash, expectedHash) {
		return fmt.Errorf("invalid preimage hash: expected %x, got %x", expectedHash, paymentHash)
	}
	if invoiceAmount != amount {
		return fmt.Errorf("invalid invoice amount: expected %d, got %d", amount, invoiceAmount)
	}
	return nil
}

type ClaimRequest struct {
	// SwapId lets the lockup be tracked via the server. Without it the
	// lockup address is scanned.
	SwapId        string
	LockupAddress string
	// RedeemScript and Preimage are hex encoded.
	RedeemScript string
	Preimage     string
	// PrivateKey is the WIF claim key returned by CreateReverseSwap.
	PrivateKey     string
	ReceiveAddress string
	// OnchainAmount is the amount the server promised to lock, checked
	// against the unblinded value on confidential chains. Zero skips the
	// check.
	OnchainAmount uint64
	ZeroConf      bool
	BlindingKey   string
}

type claimInput struct {
	redeemScript []byte
	lockupScript []byte
	receive      string
	key          *btcec.PrivateKey
	preimage     []byte
	blindingKey  []byte
}

func (c *Client) parseClaimRequest(req ClaimRequest) (*claimInput, error) {
	chain := c.cc.Chain

	in := &claimInput{}
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
	lockupAddress, err := onchain.ValidateAddress(req.LockupAddress, chain)
	if err != nil {
		return nil, err
	}
	if in.redeemScript, err = decodeHex("redeem script", req.RedeemScript); err != nil {
		return nil, err
	}
	if in.lockupScript, err = onchain.VerifyLockupAddress(lockupAddress, in.redeemScript, chain); err != nil {
		return nil, err
	}
	if in.key, err = onchain.ParsePrivateKey(chain, req.PrivateKey); err != nil {
		return nil, err
	}
	preimage, err := onchain.ParsePreimage(req.Preimage)
	if err != nil {
		return nil, err
	}
	in.preimage = preimage[:]

	script, err := onchain.ParseSwapScript(in.redeemScript)
	if err != nil {
		return nil, err
	}
	if !script.Reverse {
		return nil, fmt.Errorf("%w: cannot claim a submarine swap", ErrInvalidInput)
	}
	if !script.ClaimPubKey.IsEqual(in.key.PubKey()) {
		return nil, fmt.Errorf("%w: private key does not match the claim key of the script", ErrInvalidInput)
	}
	if err := validatePreimage(in.preimage, script.PreimageHash); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	return in, nil
}

// ClaimReverseSwap waits for the server lockup, and for its confirmation
// unless ZeroConf is set, then sweeps it to the receive address revealing
// the preimage.
func (c *Client) ClaimReverseSwap(ctx context.Context, req ClaimRequest) (string, error) {
	in, err := c.parseClaimRequest(req)
	if err != nil {
		return "", err
	}

	id := req.SwapId
	if id == "" {
		id = req.LockupAddress
	}
	lc := newLifecycle(id, "claim", c.cfg.OnStateChange)
	if err := lc.transition(StateAwaitingLockup); err != nil {
		return "", err
	}

	lockup, err := c.waitForServerLockup(ctx, req.SwapId, req.LockupAddress, in.lockupScript)
	if err != nil {
		return "", lc.fail(err, errors.Is(err, ErrSwapExpired))
	}
	if err := verifyLockup(c.cc.Chain, lockup, in.lockupScript); err != nil {
		return "", lc.fail(err, false)
	}
	lc.log.Infof("found lockup %s:%d", lockup.Txid, lockup.Vout)

	if !req.ZeroConf && !lockup.Confirmed {
		if err := lc.transition(StateAwaitingConfirmation); err != nil {
			return "", lc.fail(err, false)
		}
		if err := c.watcher.WaitForConfirmation(ctx, lockup.Txid); err != nil {
			return "", lc.fail(err, false)
		}
	}

	fee, err := c.ClaimFee(ctx, in.redeemScript)
	if err != nil {
		return "", lc.fail(err, false)
	}

	params := onchain.NewClaimParams(
		lockup.TxHex, lockup.Vout, in.redeemScript, in.receive, in.key, in.preimage, fee, in.blindingKey,
	)
	params.MinValue = req.OnchainAmount
	return c.buildAndBroadcast(ctx, lc, params)
}

// waitForServerLockup follows the swap status until the server reports its
// lockup transaction, then looks the output up on chain.
func (c *Client) waitForServerLockup(
	ctx context.Context, swapId, lockupAddress string, script []byte,
) (*explorer.LockupOutput, error) {
	if swapId == "" {
		return c.watcher.WaitForLockup(ctx, lockupAddress, script)
	}

	var (
		txid string
		err  error
	)
	if c.cfg.UseWebsocket {
		txid, err = c.streamServerLockup(ctx, swapId)
	} else {
		txid, err = c.pollServerLockup(ctx, swapId)
	}
	if err != nil {
		return nil, err
	}

	log.WithField("swap", swapId).Debugf("server lockup transaction %s", txid)
	return c.watcher.WaitForOutput(ctx, txid, script)
}

func (c *Client) pollServerLockup(ctx context.Context, swapId string) (string, error) {
	var txid string
	err := utils.Retry(ctx, c.cc.PollInterval, func(ctx context.Context) (bool, error) {
		status, err := c.boltzSvc.SwapStatus(ctx, swapId)
		if err != nil {
			var statusErr *boltz.SwapStatusError
			if !errors.As(err, &statusErr) {
				if errors.Is(err, boltz.ErrNotFound) {
					return false, backoff.Permanent(err)
				}
				return false, err
			}
		}
		id, err := lockupFromStatus(status)
		if err != nil {
			return false, backoff.Permanent(err)
		}
		txid = id
		return txid != "", nil
	})
	return txid, err
}

func (c *Client) streamServerLockup(ctx context.Context, swapId string) (string, error) {
	ws := c.boltzSvc.NewWebsocket()
	if err := ws.ConnectAndSubscribe(ctx, []string{swapId}, c.cfg.ReconnectInterval); err != nil {
		log.WithError(err).Warn("failed to subscribe to swap updates, polling instead")
		return c.pollServerLockup(ctx, swapId)
	}
	// nolint
	defer ws.Close()

	for {
		select {
		case update, ok := <-ws.Updates:
			if !ok {
				log.Warn("swap updates stream closed, polling instead")
				return c.pollServerLockup(ctx, swapId)
			}
			if update.Id != "" && update.Id != swapId {
				continue
			}
			txid, err := lockupFromStatus(&update)
			if err != nil {
				return "", err
			}
			if txid != "" {
				return txid, nil
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// lockupFromStatus returns the server lockup txid once status reports it.
// Statuses after which no lockup can follow are errors.
func lockupFromStatus(status *boltz.SwapStatusResponse) (string, error) {
	switch boltz.ParseEvent(status.Status) {
	case boltz.TransactionMempool, boltz.TransactionConfirmed:
		if status.Transaction == nil || status.Transaction.Id == "" {
			return "", nil
		}
		return status.Transaction.Id, nil
	case boltz.SwapExpired, boltz.InvoiceExpired, boltz.TransactionRefunded:
		return "", fmt.Errorf("%w: %s", ErrSwapExpired, status.Status)
	case boltz.TransactionFailed, boltz.TransactionLockupFailed, boltz.InvoiceFailedToPay:
		return "", &boltz.SwapStatusError{Status: status.Status, Reason: status.FailureReason}
	default:
		return "", nil
	}
}

// InvoicePayer pays a Lightning invoice and returns once the payment
// settled or failed.
type InvoicePayer interface {
	PayInvoice(ctx context.Context, invoice string) error
}

// CreateReverseSwapAndClaim creates a reverse swap and runs the invoice
// payment and the claim side by side. The claim does not wait for the
// payment since the server only settles it after seeing the claim.
func (c *Client) CreateReverseSwapAndClaim(
	ctx context.Context, amount uint64, receiveAddress string, zeroConf bool, payer InvoicePayer,
) (*ReverseSwap, string, error) {
	if payer == nil {
		return nil, "", fmt.Errorf("%w: missing invoice payer", ErrInvalidInput)
	}
	if _, err := onchain.ValidateAddress(receiveAddress, c.cc.Chain); err != nil {
		return nil, "", err
	}

	swap, err := c.CreateReverseSwap(ctx, amount)
	if err != nil {
		return nil, "", err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := payer.PayInvoice(gctx, swap.Invoice); err != nil {
			return fmt.Errorf("failed to pay invoice: %w", err)
		}
		log.WithField("swap", swap.Id).Info("invoice paid")
		return nil
	})

	var txid string
	g.Go(func() error {
		var err error
		txid, err = c.ClaimReverseSwap(gctx, ClaimRequest{
			SwapId:         swap.Id,
			LockupAddress:  swap.LockupAddress,
			RedeemScript:   swap.RedeemScript,
			Preimage:       swap.Preimage.Preimage,
			PrivateKey:     swap.KeyPair.PrivateKey,
			ReceiveAddress: receiveAddress,
			OnchainAmount:  swap.OnchainAmount,
			ZeroConf:       zeroConf,
			BlindingKey:    swap.BlindingKey,
		})
		return err
	})

	if err := g.Wait(); err != nil {
		return swap, txid, err
	}
	return swap, txid, nil
}
