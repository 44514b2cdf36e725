package onchain

import (
	"crypto/rand"
	"crypto/sha256"
	"math"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/go-elements/confidential"
	"github.com/vulpemventures/go-elements/elementsutil"
	"github.com/vulpemventures/go-elements/network"
	"github.com/vulpemventures/go-elements/payment"
	"github.com/vulpemventures/go-elements/transaction"
)

type liquidFixture struct {
	*swapFixture
	chain         *Chain
	lockupBlinder *btcec.PrivateKey
	lockup        *transaction.Transaction
	lockupHex     string
	receiveAddr   string
	receiveBlind  *btcec.PrivateKey
}

func newLiquidFixture(t *testing.T, asset []byte, value uint64) *liquidFixture {
	t.Helper()

	chain, err := NewChain(PairLiquid, Regtest)
	require.NoError(t, err)

	f := &liquidFixture{swapFixture: newSwapFixture(t), chain: chain}

	f.lockupBlinder, err = btcec.NewPrivateKey()
	require.NoError(t, err)

	p2wsh, _, err := LockupScripts(f.reverse)
	require.NoError(t, err)

	out, err := BlindExplicitOutput(asset, value, p2wsh, f.lockupBlinder.PubKey().SerializeCompressed())
	require.NoError(t, err)

	f.lockup = transaction.NewTx(2)
	f.lockup.AddInput(transaction.NewTxInput(make([]byte, 32), 0))
	f.lockup.AddOutput(out)
	f.lockupHex, err = f.lockup.ToHex()
	require.NoError(t, err)

	receiveKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	f.receiveBlind, err = btcec.NewPrivateKey()
	require.NoError(t, err)
	f.receiveAddr, err = payment.FromPublicKey(
		receiveKey.PubKey(), &network.Regtest, f.receiveBlind.PubKey(),
	).ConfidentialWitnessPubKeyHash()
	require.NoError(t, err)

	return f
}

func nativeAsset(t *testing.T) []byte {
	asset, err := elementsutil.AssetHashToBytes(network.Regtest.AssetID)
	require.NoError(t, err)
	return asset[1:]
}

func TestBuildConfidentialClaimTx(t *testing.T) {
	const value, fee = uint64(100000), uint64(300)

	f := newLiquidFixture(t, nativeAsset(t), value)

	p2wsh, _, err := LockupScripts(f.reverse)
	require.NoError(t, err)
	vout, _, found, err := FindOutput(f.chain, f.lockupHex, p2wsh)
	require.NoError(t, err)
	require.True(t, found)

	params := NewClaimParams(
		f.lockupHex, vout, f.reverse, f.receiveAddr, f.claimKey, f.preimage, fee,
		f.lockupBlinder.Serialize(),
	)
	spend, err := BuildSpendTx(f.chain, params)
	require.NoError(t, err)

	tx, err := transaction.NewTxFromHex(spend.Hex)
	require.NoError(t, err)
	require.Equal(t, spend.Txid, tx.TxHash().String())
	require.Len(t, tx.Outputs, 2)
	require.Equal(t, uint32(0), tx.Locktime)

	receive, err := confidential.UnblindOutputWithKey(tx.Outputs[0], f.receiveBlind.Serialize())
	require.NoError(t, err)
	require.Equal(t, nativeAsset(t), receive.Asset)

	feeOut := tx.Outputs[1]
	require.Empty(t, feeOut.Script)
	feeValue, err := elementsutil.ValueFromBytes(feeOut.Value)
	require.NoError(t, err)
	require.Equal(t, fee, feeValue)

	require.Equal(t, value, receive.Value+feeValue)

	lockupOut, err := confidential.UnblindOutputWithKey(f.lockup.Outputs[0], f.lockupBlinder.Serialize())
	require.NoError(t, err)
	requireBlindedOutput(t, tx.Outputs[0], lockupOut, receive)

	witness := tx.Inputs[0].Witness
	require.Len(t, witness, 3)
	require.Equal(t, f.preimage, witness[1])
	require.Equal(t, f.reverse, witness[2])

	sig, err := ecdsa.ParseDERSignature(witness[0][:len(witness[0])-1])
	require.NoError(t, err)
	sigHash := tx.HashForWitnessV0(0, f.reverse, f.lockup.Outputs[0].Value, txscript.SigHashAll)
	require.True(t, sig.Verify(sigHash[:], f.claimKey.PubKey()))
}

func TestBuildConfidentialRefundTx(t *testing.T) {
	f := newLiquidFixture(t, nativeAsset(t), 50000)

	params, err := NewRefundParams(
		f.lockupHex, 0, f.reverse, f.receiveAddr, f.refundKey, f.timeout, 250,
		f.lockupBlinder.Serialize(),
	)
	require.NoError(t, err)
	spend, err := BuildSpendTx(f.chain, params)
	require.NoError(t, err)

	tx, err := transaction.NewTxFromHex(spend.Hex)
	require.NoError(t, err)
	require.Equal(t, f.timeout, tx.Locktime)
	require.Equal(t, uint32(RefundSequence), tx.Inputs[0].Sequence)
	require.Empty(t, tx.Inputs[0].Witness[1])

	hash := sha256.Sum256(f.reverse)
	require.Equal(t, append([]byte{0x22, 0x00, 0x20}, hash[:]...), tx.Inputs[0].Script)

	receive, err := confidential.UnblindOutputWithKey(tx.Outputs[0], f.receiveBlind.Serialize())
	require.NoError(t, err)
	require.Equal(t, uint64(50000-250), receive.Value)
	lockupOut, err := confidential.UnblindOutputWithKey(f.lockup.Outputs[0], f.lockupBlinder.Serialize())
	require.NoError(t, err)
	requireBlindedOutput(t, tx.Outputs[0], lockupOut, receive)
}

func TestBlindOutputSharedBuffer(t *testing.T) {
	// Same layout as an unblinded output: asset and asset blinder are two
	// halves of one buffer.
	message := make([]byte, 64)
	copy(message, nativeAsset(t))
	_, err := rand.Read(message[32:])
	require.NoError(t, err)
	valueBlinder := make([]byte, 32)
	_, err = rand.Read(valueBlinder)
	require.NoError(t, err)

	in := &confidential.UnblindOutputResult{
		Value:               20000,
		Asset:               message[:32],
		AssetBlindingFactor: message[32:],
		ValueBlindingFactor: valueBlinder,
	}
	inAssetBlinder := append([]byte{}, in.AssetBlindingFactor...)

	blindKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	script := []byte{0x00, 0x14}
	script = append(script, make([]byte, 20)...)

	out, err := blindOutput(
		blindingInput{
			Value:        in.Value,
			Asset:        in.Asset,
			AssetBlinder: in.AssetBlindingFactor,
			ValueBlinder: in.ValueBlindingFactor,
		},
		in.Value-500, script, blindKey.PubKey().SerializeCompressed(),
	)
	require.NoError(t, err)
	require.Equal(t, inAssetBlinder, in.AssetBlindingFactor)

	got, err := confidential.UnblindOutputWithKey(out, blindKey.Serialize())
	require.NoError(t, err)
	require.Equal(t, in.Value-500, got.Value)
	requireBlindedOutput(t, out, in, got)
}

// requireBlindedOutput checks the proofs of a blinded output spending in
// next to an explicit fee output, and that the blinders balance:
// v_in*abf_in + vbf_in == v_out*abf_out + vbf_out.
func requireBlindedOutput(
	t *testing.T, out *transaction.TxOutput, in, got *confidential.UnblindOutputResult,
) {
	t.Helper()

	require.True(t, confidential.VerifyRangeProof(out.Value, out.Asset, out.Script, out.RangeProof))
	require.True(t, confidential.VerifySurjectionProof(confidential.VerifySurjectionProofArgs{
		InputAssets:               [][]byte{in.Asset},
		InputAssetBlindingFactors: [][]byte{in.AssetBlindingFactor},
		OutputAsset:               got.Asset,
		OutputAssetBlindingFactor: got.AssetBlindingFactor,
		Proof:                     out.SurjectionProof,
	}))

	inSum := blinderSum(t, in.Value, in.AssetBlindingFactor, in.ValueBlindingFactor)
	outSum := blinderSum(t, got.Value, got.AssetBlindingFactor, got.ValueBlindingFactor)
	require.True(t, inSum.Equals(outSum))
}

func blinderSum(t *testing.T, value uint64, assetBlinder, valueBlinder []byte) *btcec.ModNScalar {
	t.Helper()
	require.LessOrEqual(t, value, uint64(math.MaxUint32))

	var sum, abf, vbf btcec.ModNScalar
	sum.SetInt(uint32(value))
	require.False(t, abf.SetByteSlice(assetBlinder))
	require.False(t, vbf.SetByteSlice(valueBlinder))
	sum.Mul(&abf).Add(&vbf)
	return &sum
}

func TestBuildConfidentialSpendTxErrors(t *testing.T) {
	t.Run("wrong asset", func(t *testing.T) {
		fakeAsset := sha256.Sum256([]byte("not the native asset"))
		f := newLiquidFixture(t, fakeAsset[:], 100000)

		params := NewClaimParams(
			f.lockupHex, 0, f.reverse, f.receiveAddr, f.claimKey, f.preimage, 300,
			f.lockupBlinder.Serialize(),
		)
		_, err := BuildSpendTx(f.chain, params)
		require.ErrorIs(t, err, ErrWrongAsset)
	})

	t.Run("missing blinding key", func(t *testing.T) {
		f := newLiquidFixture(t, nativeAsset(t), 100000)

		params := NewClaimParams(f.lockupHex, 0, f.reverse, f.receiveAddr, f.claimKey, f.preimage, 300, nil)
		_, err := BuildSpendTx(f.chain, params)
		require.ErrorIs(t, err, ErrMissingBlindingKey)
		require.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("fee above value", func(t *testing.T) {
		f := newLiquidFixture(t, nativeAsset(t), 1000)

		params := NewClaimParams(
			f.lockupHex, 0, f.reverse, f.receiveAddr, f.claimKey, f.preimage, 1000,
			f.lockupBlinder.Serialize(),
		)
		_, err := BuildSpendTx(f.chain, params)
		require.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("lockup below promised amount", func(t *testing.T) {
		f := newLiquidFixture(t, nativeAsset(t), 100000)

		params := NewClaimParams(
			f.lockupHex, 0, f.reverse, f.receiveAddr, f.claimKey, f.preimage, 300,
			f.lockupBlinder.Serialize(),
		)
		params.MinValue = 100001
		_, err := BuildSpendTx(f.chain, params)
		var valueErr *LockupValueError
		require.ErrorAs(t, err, &valueErr)
		require.Equal(t, uint64(100000), valueErr.Value)
		require.Equal(t, uint64(100001), valueErr.Minimum)
		require.ErrorIs(t, err, ErrLockupMismatch)

		params.MinValue = 100000
		_, err = BuildSpendTx(f.chain, params)
		require.NoError(t, err)
	})

	t.Run("unconfidential receive address", func(t *testing.T) {
		f := newLiquidFixture(t, nativeAsset(t), 100000)
		key, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		addr, err := payment.FromPublicKey(key.PubKey(), &network.Regtest, nil).WitnessPubKeyHash()
		require.NoError(t, err)

		params := NewClaimParams(
			f.lockupHex, 0, f.reverse, addr, f.claimKey, f.preimage, 300, f.lockupBlinder.Serialize(),
		)
		_, err = BuildSpendTx(f.chain, params)
		require.ErrorIs(t, err, ErrInvalidInput)
	})
}
