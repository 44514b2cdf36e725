package swap

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ArkLabsHQ/boltz-swap/internal/test/mockboltz"
	"github.com/ArkLabsHQ/boltz-swap/pkg/boltz"
	"github.com/ArkLabsHQ/boltz-swap/pkg/onchain"
	"github.com/stretchr/testify/require"
)

const (
	invoiceAmount = 50000
	// invoice amount minus the 0.5% fee and the 306 sats lockup fee
	onchainAmount = 49444
	claimFee      = 276
)

func claimRequest(swap *ReverseSwap, zeroConf bool) ClaimRequest {
	return ClaimRequest{
		SwapId:         swap.Id,
		LockupAddress:  swap.LockupAddress,
		RedeemScript:   swap.RedeemScript,
		Preimage:       swap.Preimage.Preimage,
		PrivateKey:     swap.KeyPair.PrivateKey,
		ReceiveAddress: receiveAddress,
		OnchainAmount:  swap.OnchainAmount,
		ZeroConf:       zeroConf,
	}
}

func (e *testEnv) requireClaimed(t *testing.T, swap *ReverseSwap, txid string) {
	t.Helper()

	lockupScript, err := onchain.AddressScript(swap.LockupAddress, e.client.Context().Chain)
	require.NoError(t, err)
	lockups := e.chain.Paying(lockupScript)
	require.Len(t, lockups, 1)

	spend, ok := e.chain.Spending(lockups[0].TxHash().String())
	require.True(t, ok)
	require.Equal(t, txid, spend.TxHash().String())
	require.Len(t, spend.TxOut, 1)
	require.Equal(t, int64(onchainAmount-claimFee), spend.TxOut[0].Value)
	require.Zero(t, spend.LockTime)
}

func TestCreateReverseSwap(t *testing.T) {
	env := newTestEnv(t, mockboltz.LockupNone)
	ctx := testContext(t)

	t.Run("valid", func(t *testing.T) {
		swap, err := env.client.CreateReverseSwap(ctx, invoiceAmount)
		require.NoError(t, err)
		require.NotEmpty(t, swap.Invoice)
		require.Equal(t, uint64(onchainAmount), swap.OnchainAmount)
		require.Equal(t, env.chain.Height()+timeoutBlocks, swap.TimeoutBlockHeight)

		preimage, err := onchain.ParsePreimage(swap.Preimage.Preimage)
		require.NoError(t, err)
		require.Equal(t, swap.Preimage.Hash, preimage.Hash().String())
	})

	t.Run("limits", func(t *testing.T) {
		before := env.server.Requests("/createswap")
		for _, amount := range []uint64{9999, 40294968} {
			_, err := env.client.CreateReverseSwap(ctx, amount)
			var limitErr *LimitError
			require.ErrorAs(t, err, &limitErr)
			require.Equal(t, amount, limitErr.Amount)
		}
		require.Equal(t, before, env.server.Requests("/createswap"))
	})
}

func TestVerifyReverseSwap(t *testing.T) {
	env := newTestEnv(t, mockboltz.LockupNone)
	ctx := testContext(t)

	swap, err := env.client.CreateReverseSwap(ctx, invoiceAmount)
	require.NoError(t, err)
	other, err := env.client.CreateReverseSwap(ctx, invoiceAmount)
	require.NoError(t, err)

	t.Run("untampered", func(t *testing.T) {
		err := env.client.verifyReverseSwap(swap.CreateReverseSwapResponse, swap.KeyPair, swap.Preimage, invoiceAmount)
		require.NoError(t, err)
	})

	testCases := []struct {
		name     string
		tamper   func(*boltz.CreateReverseSwapResponse)
		keys     *onchain.KeyPair
		preimage *onchain.Preimage
		amount   uint64
		errMsg   string
	}{
		{
			name:     "lockup address",
			tamper:   func(s *boltz.CreateReverseSwapResponse) { s.LockupAddress = receiveAddress },
			keys:     swap.KeyPair,
			preimage: swap.Preimage,
			amount:   invoiceAmount,
			errMsg:   "boltz is trying to scam us",
		},
		{
			name:     "invoice amount",
			tamper:   func(*boltz.CreateReverseSwapResponse) {},
			keys:     swap.KeyPair,
			preimage: swap.Preimage,
			amount:   invoiceAmount + 1,
			errMsg:   "invalid invoice amount",
		},
		{
			name:     "invoice hash",
			tamper:   func(s *boltz.CreateReverseSwapResponse) { s.Invoice = other.Invoice },
			keys:     swap.KeyPair,
			preimage: swap.Preimage,
			amount:   invoiceAmount,
			errMsg:   "invalid preimage hash",
		},
		{
			name:     "claim key",
			tamper:   func(*boltz.CreateReverseSwapResponse) {},
			keys:     other.KeyPair,
			preimage: swap.Preimage,
			amount:   invoiceAmount,
			errMsg:   "claim key is not ours",
		},
		{
			name:     "hash lock",
			tamper:   func(*boltz.CreateReverseSwapResponse) {},
			keys:     swap.KeyPair,
			preimage: other.Preimage,
			amount:   invoiceAmount,
			errMsg:   "preimage hash mismatch",
		},
		{
			name:     "timeout",
			tamper:   func(s *boltz.CreateReverseSwapResponse) { s.TimeoutBlockHeight-- },
			keys:     swap.KeyPair,
			preimage: swap.Preimage,
			amount:   invoiceAmount,
			errMsg:   "script timeout",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tampered := *swap.CreateReverseSwapResponse
			tc.tamper(&tampered)
			err := env.client.verifyReverseSwap(&tampered, tc.keys, tc.preimage, tc.amount)
			require.ErrorContains(t, err, tc.errMsg)
		})
	}
}

func TestClaimReverseSwap(t *testing.T) {
	testCases := []struct {
		name         string
		lockup       mockboltz.LockupMode
		zeroConf     bool
		useWebsocket bool
		states       []State
	}{
		{
			name:   "confirmed lockup",
			lockup: mockboltz.LockupConfirmed,
			states: []State{StateAwaitingLockup, StateSpendBuilt, StateBroadcast, StateSettled},
		},
		{
			name:     "zero conf",
			lockup:   mockboltz.LockupMempool,
			zeroConf: true,
			states:   []State{StateAwaitingLockup, StateSpendBuilt, StateBroadcast, StateSettled},
		},
		{
			name:   "wait for confirmation",
			lockup: mockboltz.LockupMempool,
			states: []State{
				StateAwaitingLockup, StateAwaitingConfirmation, StateSpendBuilt, StateBroadcast, StateSettled,
			},
		},
		{
			name:         "websocket",
			lockup:       mockboltz.LockupConfirmed,
			useWebsocket: true,
			states:       []State{StateAwaitingLockup, StateSpendBuilt, StateBroadcast, StateSettled},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var env *testEnv
			env = newTestEnv(t, tc.lockup, func(cfg *Config) {
				cfg.UseWebsocket = tc.useWebsocket
				cfg.OnStateChange = func(id string, from, to State) {
					env.observe(id, from, to)
					if to == StateAwaitingConfirmation {
						env.chain.Mine(1)
					}
				}
			})
			ctx := testContext(t)

			swap, err := env.client.CreateReverseSwap(ctx, invoiceAmount)
			require.NoError(t, err)

			txid, err := env.client.ClaimReverseSwap(ctx, claimRequest(swap, tc.zeroConf))
			require.NoError(t, err)
			env.requireClaimed(t, swap, txid)
			require.Equal(t, tc.states, env.statesOf(swap.Id))
		})
	}
}

func TestClaimReverseSwapFailures(t *testing.T) {
	testCases := []struct {
		name   string
		status string
		reason string
		check  func(t *testing.T, err error)
		final  State
	}{
		{
			name:   "lockup failed",
			status: boltz.StatusTransactionFailed,
			reason: "insufficient balance",
			check: func(t *testing.T, err error) {
				var statusErr *boltz.SwapStatusError
				require.ErrorAs(t, err, &statusErr)
				require.Equal(t, "insufficient balance", statusErr.Reason)
			},
			final: StateFailed,
		},
		{
			name:   "expired",
			status: boltz.StatusSwapExpired,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrSwapExpired)
			},
			final: StateExpired,
		},
		{
			name:   "refunded",
			status: boltz.StatusTransactionRefunded,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrSwapExpired)
			},
			final: StateExpired,
		},
	}

	for _, useWebsocket := range []bool{false, true} {
		for _, tc := range testCases {
			name := tc.name
			if useWebsocket {
				name += " websocket"
			}
			t.Run(name, func(t *testing.T) {
				env := newTestEnv(t, mockboltz.LockupNone, func(cfg *Config) {
					cfg.UseWebsocket = useWebsocket
				})
				ctx := testContext(t)

				swap, err := env.client.CreateReverseSwap(ctx, invoiceAmount)
				require.NoError(t, err)
				require.NoError(t, env.server.SetStatus(swap.Id, tc.status, tc.reason))

				_, err = env.client.ClaimReverseSwap(ctx, claimRequest(swap, false))
				tc.check(t, err)
				require.Equal(t, []State{StateAwaitingLockup, tc.final}, env.statesOf(swap.Id))
			})
		}
	}
}

func TestClaimReverseSwapInvalid(t *testing.T) {
	env := newTestEnv(t, mockboltz.LockupNone)
	ctx := testContext(t)

	swap, err := env.client.CreateReverseSwap(ctx, invoiceAmount)
	require.NoError(t, err)
	other, err := env.client.CreateReverseSwap(ctx, invoiceAmount)
	require.NoError(t, err)
	keys, submarine, err := env.client.CreateSwap(ctx, newTestInvoice(t, invoiceAmount))
	require.NoError(t, err)

	testCases := []struct {
		name   string
		tamper func(*ClaimRequest)
	}{
		{"preimage", func(r *ClaimRequest) { r.Preimage = other.Preimage.Preimage }},
		{"malformed preimage", func(r *ClaimRequest) { r.Preimage = "abcd" }},
		{"private key", func(r *ClaimRequest) { r.PrivateKey = other.KeyPair.PrivateKey }},
		{"receive address", func(r *ClaimRequest) { r.ReceiveAddress = "" }},
		{"redeem script", func(r *ClaimRequest) { r.RedeemScript = other.RedeemScript }},
		{"submarine swap", func(r *ClaimRequest) {
			r.LockupAddress = submarine.Address
			r.RedeemScript = submarine.RedeemScript
			r.PrivateKey = keys.PrivateKey
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := claimRequest(swap, false)
			tc.tamper(&req)
			_, err := env.client.ClaimReverseSwap(ctx, req)
			require.Error(t, err)
			require.Empty(t, env.statesOf(swap.Id))
		})
	}
}

type fakePayer struct {
	mu       sync.Mutex
	invoices []string
	err      error
}

func (p *fakePayer) PayInvoice(_ context.Context, invoice string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invoices = append(p.invoices, invoice)
	return p.err
}

func TestCreateReverseSwapAndClaim(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		env := newTestEnv(t, mockboltz.LockupConfirmed)
		ctx := testContext(t)
		payer := &fakePayer{}

		swap, txid, err := env.client.CreateReverseSwapAndClaim(ctx, invoiceAmount, receiveAddress, false, payer)
		require.NoError(t, err)
		require.Equal(t, []string{swap.Invoice}, payer.invoices)
		env.requireClaimed(t, swap, txid)
	})

	t.Run("payment failed", func(t *testing.T) {
		env := newTestEnv(t, mockboltz.LockupNone)
		ctx := testContext(t)
		payer := &fakePayer{err: errors.New("no route")}

		swap, _, err := env.client.CreateReverseSwapAndClaim(ctx, invoiceAmount, receiveAddress, false, payer)
		require.ErrorContains(t, err, "failed to pay invoice")
		require.NotNil(t, swap)
	})

	t.Run("invalid receive address", func(t *testing.T) {
		env := newTestEnv(t, mockboltz.LockupConfirmed)
		ctx := testContext(t)

		_, _, err := env.client.CreateReverseSwapAndClaim(ctx, invoiceAmount, "bc1qnotregtest", false, &fakePayer{})
		require.Error(t, err)
		require.Zero(t, env.server.Requests("/createswap"))
	})
}
