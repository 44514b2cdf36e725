package swap

import (
	"context"
	"math"

	"github.com/ArkLabsHQ/boltz-swap/pkg/boltz"
	"github.com/ArkLabsHQ/boltz-swap/pkg/onchain"
)

// CheckLimits fails with a *LimitError unless minimal <= amount <= maximal.
func CheckLimits(pair boltz.Pair, amount uint64) error {
	if amount < pair.Limits.Minimal || amount > pair.Limits.Maximal {
		return &LimitError{Amount: amount, Minimal: pair.Limits.Minimal, Maximal: pair.Limits.Maximal}
	}
	return nil
}

// AmountWithReverseFees is the invoice amount of a reverse swap that pays
// out amount on chain once the lockup and claim miner fees and the
// percentage fee are taken. Rounds up.
func AmountWithReverseFees(pair boltz.Pair, amount uint64) uint64 {
	minerFees := pair.Fees.MinerFees.BaseAsset.Reverse
	gross := float64(amount+minerFees.Claim+minerFees.Lockup) / (1 - pair.Fees.Percentage/100)
	return uint64(math.Ceil(gross))
}

// AmountAfterSwapFees is the invoice amount a submarine swap funded with
// amount can pay. Rounds down.
func AmountAfterSwapFees(pair boltz.Pair, amount uint64) uint64 {
	net := float64(amount)*(1-pair.Fees.PercentageSwapIn/100) - float64(pair.Fees.MinerFees.BaseAsset.Normal)
	if net <= 0 {
		return 0
	}
	return uint64(math.Floor(net))
}

// ClaimFee is the server announced claim miner fee. With a fee rate
// override, or when the server announces none, it is estimated from the
// spend size instead.
func (c *Client) ClaimFee(ctx context.Context, redeemScript []byte) (uint64, error) {
	serverFee := c.cc.Pair.Fees.MinerFees.BaseAsset.Reverse.Claim
	if c.cc.FeeRate <= 0 && serverFee > 0 {
		return serverFee, nil
	}
	rate, err := c.GetFeeRate(ctx)
	if err != nil {
		return 0, err
	}
	return onchain.EstimateSpendFee(c.cc.Chain, redeemScript, false, rate), nil
}

// RefundFee estimates the refund fee at the current fee rate.
func (c *Client) RefundFee(ctx context.Context, redeemScript []byte) (uint64, error) {
	rate, err := c.GetFeeRate(ctx)
	if err != nil {
		return 0, err
	}
	return onchain.EstimateSpendFee(c.cc.Chain, redeemScript, true, rate), nil
}
