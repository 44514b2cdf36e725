package swap

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/ArkLabsHQ/boltz-swap/internal/test/mockboltz"
	"github.com/ArkLabsHQ/boltz-swap/pkg/boltz"
	"github.com/ArkLabsHQ/boltz-swap/pkg/explorer"
	"github.com/ArkLabsHQ/boltz-swap/pkg/onchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

const (
	receiveAddress = "bcrt1qky0es27zfejlr3grpfl4pj47w7yfm0atwqdf3y"
	pollInterval   = 20 * time.Millisecond
	timeoutBlocks  = 10
)

type testEnv struct {
	chain  *mockboltz.Chain
	server *mockboltz.Server
	client *Client

	mu     sync.Mutex
	states map[string][]State
}

func (e *testEnv) observe(id string, _, to State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states[id] = append(e.states[id], to)
}

func (e *testEnv) statesOf(id string) []State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]State(nil), e.states[id]...)
}

func newTestEnv(t *testing.T, lockup mockboltz.LockupMode, opts ...func(*Config)) *testEnv {
	t.Helper()

	chain := mockboltz.NewChain(&chaincfg.RegressionNetParams)
	require.NoError(t, chain.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = chain.Stop() })

	server, err := mockboltz.New(mockboltz.Config{
		Chain:         chain,
		TimeoutBlocks: timeoutBlocks,
		ReverseLockup: lockup,
	})
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })

	env := &testEnv{chain: chain, server: server, states: make(map[string][]State)}

	btc, err := onchain.NewChain(onchain.PairBTC, onchain.Regtest)
	require.NoError(t, err)
	cfg := Config{
		Chain:         btc,
		PollInterval:  pollInterval,
		OnStateChange: env.observe,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	watcher := explorer.NewWatcher(explorer.NewHTTPService(chain.URL()), nil, pollInterval)
	env.client, err = NewClient(context.Background(), cfg, &boltz.Api{URL: server.String()}, watcher)
	require.NoError(t, err)
	return env
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestInvoice(t *testing.T, amount uint64) string {
	t.Helper()

	preimage := make([]byte, 32)
	_, err := rand.Read(preimage)
	require.NoError(t, err)
	hash := sha256.Sum256(preimage)

	invoice, err := mockboltz.NewInvoice(&chaincfg.RegressionNetParams, hash[:], amount, "test")
	require.NoError(t, err)
	return invoice
}

func TestCreateSwap(t *testing.T) {
	env := newTestEnv(t, mockboltz.LockupNone)

	t.Run("valid", func(t *testing.T) {
		ctx := testContext(t)
		invoice := newTestInvoice(t, 50000)

		keys, swap, err := env.client.CreateSwap(ctx, invoice)
		require.NoError(t, err)
		require.NotEmpty(t, keys.PrivateKey)
		require.NotEmpty(t, swap.Id)
		require.Equal(t, env.chain.Height()+timeoutBlocks, swap.TimeoutBlockHeight)
		// 50000 + 0.1% + 340 normal miner fee
		require.Equal(t, uint64(50390), swap.ExpectedAmount)
	})

	t.Run("invalid", func(t *testing.T) {
		ctx := testContext(t)
		before := env.server.Requests("/createswap")

		_, _, err := env.client.CreateSwap(ctx, "")
		require.ErrorIs(t, err, ErrInvalidInput)

		_, _, err = env.client.CreateSwap(ctx, "lnbcrt1notaninvoice")
		require.ErrorIs(t, err, ErrInvalidInput)

		_, _, err = env.client.CreateSwap(ctx, newTestInvoice(t, 9999))
		var limitErr *LimitError
		require.ErrorAs(t, err, &limitErr)
		require.Equal(t, uint64(10000), limitErr.Minimal)

		require.Equal(t, before, env.server.Requests("/createswap"))
	})
}

func TestVerifySwap(t *testing.T) {
	env := newTestEnv(t, mockboltz.LockupNone)
	ctx := testContext(t)

	invoice := newTestInvoice(t, 50000)
	keys, swap, err := env.client.CreateSwap(ctx, invoice)
	require.NoError(t, err)

	other, _, err := env.client.CreateSwap(ctx, newTestInvoice(t, 50000))
	require.NoError(t, err)

	redeemScript, err := hex.DecodeString(swap.RedeemScript)
	require.NoError(t, err)
	script, err := onchain.ParseSwapScript(redeemScript)
	require.NoError(t, err)

	testCases := []struct {
		name   string
		tamper func(*boltz.CreateSwapResponse)
		keys   *onchain.KeyPair
		errMsg string
	}{
		{
			name:   "lockup address",
			tamper: func(s *boltz.CreateSwapResponse) { s.Address = receiveAddress },
			keys:   keys,
			errMsg: "boltz is trying to scam us",
		},
		{
			name:   "timeout",
			tamper: func(s *boltz.CreateSwapResponse) { s.TimeoutBlockHeight++ },
			keys:   keys,
			errMsg: "script timeout",
		},
		{
			name:   "refund key",
			tamper: func(*boltz.CreateSwapResponse) {},
			keys:   other,
			errMsg: "refund key is not ours",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tampered := *swap
			tc.tamper(&tampered)
			err := env.client.verifySwap(&tampered, tc.keys, script.PreimageHash)
			require.ErrorIs(t, err, onchain.ErrLockupMismatch)
			require.ErrorContains(t, err, tc.errMsg)
		})
	}

	t.Run("hash lock", func(t *testing.T) {
		err := env.client.verifySwap(swap, keys, make([]byte, 20))
		require.ErrorContains(t, err, "hash lock does not match the invoice")
	})
}

func TestRefundSwap(t *testing.T) {
	env := newTestEnv(t, mockboltz.LockupNone)
	ctx := testContext(t)

	keys, swap, err := env.client.CreateSwap(ctx, newTestInvoice(t, 50000))
	require.NoError(t, err)

	lockupScript, err := onchain.AddressScript(swap.Address, env.client.Context().Chain)
	require.NoError(t, err)
	lockup := env.chain.Fund(lockupScript, int64(swap.ExpectedAmount), true)
	lockupTxid := lockup.TxHash().String()

	req := RefundRequest{
		SwapId:         swap.Id,
		LockupAddress:  swap.Address,
		RedeemScript:   swap.RedeemScript,
		ReceiveAddress: receiveAddress,
		PrivateKey:     keys.PrivateKey,
	}

	t.Run("before timeout", func(t *testing.T) {
		// The server status never lets a refund through early.
		require.NoError(t, env.server.SetStatus(swap.Id, boltz.StatusSwapExpired, ""))

		_, err := env.client.RefundSwap(ctx, req)
		var heightErr *explorer.BlockHeightError
		require.ErrorAs(t, err, &heightErr)
		require.Equal(t, swap.TimeoutBlockHeight, heightErr.Target)

		_, spent := env.chain.Spending(lockupTxid)
		require.False(t, spent)
		require.Empty(t, env.statesOf(swap.Id))
	})

	t.Run("invalid", func(t *testing.T) {
		other, err := onchain.GenerateKeyPair(env.client.Context().Chain)
		require.NoError(t, err)

		testCases := []struct {
			name   string
			tamper func(*RefundRequest)
		}{
			{"receive address", func(r *RefundRequest) { r.ReceiveAddress = "bc1qnotregtest" }},
			{"private key", func(r *RefundRequest) { r.PrivateKey = other.PrivateKey }},
			{"redeem script", func(r *RefundRequest) { r.RedeemScript = "zz" }},
			{"timeout", func(r *RefundRequest) { r.TimeoutBlockHeight = swap.TimeoutBlockHeight + 1 }},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				r := req
				tc.tamper(&r)
				_, err := env.client.RefundSwap(ctx, r)
				require.Error(t, err)
			})
		}

		t.Run("lockup address", func(t *testing.T) {
			r := req
			r.LockupAddress = receiveAddress
			_, err := env.client.RefundSwap(ctx, r)
			require.ErrorIs(t, err, onchain.ErrLockupMismatch)
		})
	})

	t.Run("after timeout", func(t *testing.T) {
		env.chain.Mine(timeoutBlocks)

		txid, err := env.client.RefundSwap(ctx, req)
		require.NoError(t, err)

		spend, ok := env.chain.Spending(lockupTxid)
		require.True(t, ok)
		require.Equal(t, txid, spend.TxHash().String())
		require.Equal(t, swap.TimeoutBlockHeight, spend.LockTime)
		require.Len(t, spend.TxOut, 1)

		fee, err := env.client.RefundFee(ctx, mustDecodeHex(t, swap.RedeemScript))
		require.NoError(t, err)
		require.Equal(t, int64(swap.ExpectedAmount-fee), spend.TxOut[0].Value)

		require.Equal(t, []State{
			StateAwaitingLockup, StateSpendBuilt, StateBroadcast, StateSettled,
		}, env.statesOf(swap.Id))
	})
}

func TestRefundSwapUnconfirmed(t *testing.T) {
	env := newTestEnv(t, mockboltz.LockupNone)
	ctx := testContext(t)

	keys, swap, err := env.client.CreateSwap(ctx, newTestInvoice(t, 20000))
	require.NoError(t, err)
	lockupScript, err := onchain.AddressScript(swap.Address, env.client.Context().Chain)
	require.NoError(t, err)

	env.chain.Mine(timeoutBlocks)
	env.chain.Fund(lockupScript, int64(swap.ExpectedAmount), false)

	env.client.cfg.OnStateChange = func(id string, from, to State) {
		env.observe(id, from, to)
		if to == StateAwaitingConfirmation {
			env.chain.Mine(1)
		}
	}

	// Without a swap id the lockup address is scanned.
	_, err = env.client.RefundSwap(ctx, RefundRequest{
		LockupAddress:  swap.Address,
		RedeemScript:   swap.RedeemScript,
		ReceiveAddress: receiveAddress,
		PrivateKey:     keys.PrivateKey,
	})
	require.NoError(t, err)
	require.Equal(t, []State{
		StateAwaitingLockup, StateAwaitingConfirmation, StateSpendBuilt, StateBroadcast, StateSettled,
	}, env.statesOf(swap.Address))
}

func TestRefundSwapUnknown(t *testing.T) {
	env := newTestEnv(t, mockboltz.LockupNone)
	ctx := testContext(t)

	keys, swap, err := env.client.CreateSwap(ctx, newTestInvoice(t, 20000))
	require.NoError(t, err)
	env.chain.Mine(timeoutBlocks)

	_, err = env.client.RefundSwap(ctx, RefundRequest{
		SwapId:         "unknown",
		LockupAddress:  swap.Address,
		RedeemScript:   swap.RedeemScript,
		ReceiveAddress: receiveAddress,
		PrivateKey:     keys.PrivateKey,
	})
	require.ErrorIs(t, err, boltz.ErrNotFound)
	require.Equal(t, []State{StateAwaitingLockup, StateFailed}, env.statesOf("unknown"))
}

func mustDecodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}
