package swap

import (
	"testing"

	"github.com/ArkLabsHQ/boltz-swap/internal/test/mockboltz"
	"github.com/ArkLabsHQ/boltz-swap/pkg/onchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func TestCheckLimits(t *testing.T) {
	pair := mockboltz.DefaultPairs()[string(onchain.PairBTC)]

	testCases := []struct {
		amount uint64
		valid  bool
	}{
		{amount: 9999},
		{amount: 10000, valid: true},
		{amount: 50000, valid: true},
		{amount: 40294967, valid: true},
		{amount: 40294968},
	}
	for _, tc := range testCases {
		err := CheckLimits(pair, tc.amount)
		if tc.valid {
			require.NoError(t, err)
			continue
		}
		var limitErr *LimitError
		require.ErrorAs(t, err, &limitErr)
		require.Equal(t, tc.amount, limitErr.Amount)
	}
}

func TestAmountWithReverseFees(t *testing.T) {
	pair := mockboltz.DefaultPairs()[string(onchain.PairBTC)]

	// (100000 + 276 + 306) / 0.995 = 101087.43...
	require.Equal(t, uint64(101088), AmountWithReverseFees(pair, 100000))

	// Paying the computed invoice leaves at least the requested amount
	// once the percentage fee and both miner fees are taken.
	for _, amount := range []uint64{10000, 123456, 1000000} {
		invoice := AmountWithReverseFees(pair, amount)
		percentageFee := uint64(float64(invoice) * pair.Fees.Percentage / 100)
		minerFees := pair.Fees.MinerFees.BaseAsset.Reverse
		require.GreaterOrEqual(t, invoice-percentageFee-minerFees.Lockup-minerFees.Claim, amount)
	}
}

func TestAmountAfterSwapFees(t *testing.T) {
	pair := mockboltz.DefaultPairs()[string(onchain.PairBTC)]

	// 100000 * 0.999 - 340
	require.Equal(t, uint64(99560), AmountAfterSwapFees(pair, 100000))
	require.Zero(t, AmountAfterSwapFees(pair, 300))
	require.Zero(t, AmountAfterSwapFees(pair, 0))
}

func TestClientFees(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	redeemScript, err := onchain.ReverseScript(make([]byte, 20), key.PubKey(), key.PubKey(), 500)
	require.NoError(t, err)

	t.Run("server fees", func(t *testing.T) {
		env := newTestEnv(t, mockboltz.LockupNone)
		ctx := testContext(t)
		env.chain.SetFeeRate(3)

		fee, err := env.client.ClaimFee(ctx, redeemScript)
		require.NoError(t, err)
		require.Equal(t, uint64(claimFee), fee)

		fee, err = env.client.RefundFee(ctx, redeemScript)
		require.NoError(t, err)
		require.Equal(t, onchain.EstimateSpendFee(env.client.Context().Chain, redeemScript, true, 3), fee)
	})

	t.Run("fee rate override", func(t *testing.T) {
		env := newTestEnv(t, mockboltz.LockupNone, func(cfg *Config) {
			cfg.FeeRate = 10
		})
		ctx := testContext(t)
		chain := env.client.Context().Chain

		fee, err := env.client.ClaimFee(ctx, redeemScript)
		require.NoError(t, err)
		require.Equal(t, onchain.EstimateSpendFee(chain, redeemScript, false, 10), fee)

		fee, err = env.client.RefundFee(ctx, redeemScript)
		require.NoError(t, err)
		require.Equal(t, onchain.EstimateSpendFee(chain, redeemScript, true, 10), fee)
	})
}
