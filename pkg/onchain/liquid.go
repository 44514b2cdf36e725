package onchain

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/vulpemventures/go-elements/address"
	"github.com/vulpemventures/go-elements/confidential"
	"github.com/vulpemventures/go-elements/elementsutil"
	"github.com/vulpemventures/go-elements/transaction"
)

func buildConfidentialSpendTx(chain *Chain, params SpendParams) (*SpendTx, error) {
	if len(params.BlindingKey) == 0 {
		return nil, ErrMissingBlindingKey
	}

	lockupTx, err := transaction.NewTxFromHex(params.LockupTx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to deserialize transaction: %s", ErrInvalidInput, err)
	}
	if int(params.Vout) >= len(lockupTx.Outputs) {
		return nil, fmt.Errorf("%w: lockup tx has no output %d", ErrInvalidInput, params.Vout)
	}
	prevOut := lockupTx.Outputs[params.Vout]

	unblinded, err := confidential.UnblindOutputWithKey(prevOut, params.BlindingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to unblind lockup output: %w", err)
	}

	nativeAsset, err := elementsutil.AssetHashToBytes(chain.Liquid.AssetID)
	if err != nil {
		return nil, fmt.Errorf("invalid native asset: %w", err)
	}
	if !bytes.Equal(unblinded.Asset, nativeAsset[1:]) {
		return nil, ErrWrongAsset
	}
	if unblinded.Value < params.MinValue {
		return nil, &LockupValueError{Value: unblinded.Value, Minimum: params.MinValue}
	}
	if params.Fee >= unblinded.Value {
		return nil, fmt.Errorf(
			"%w: fee %d must be lower than lockup value %d", ErrInvalidInput, params.Fee, unblinded.Value,
		)
	}

	if !isConfidential(params.ReceiveAddress) {
		return nil, fmt.Errorf("%w: only confidential receive addresses are supported", ErrInvalidInput)
	}
	receive, err := address.FromConfidential(params.ReceiveAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid receive address: %s", ErrInvalidInput, err)
	}

	tx := transaction.NewTx(2)
	tx.Locktime = params.Locktime

	lockupHash := lockupTx.TxHash()
	txIn := transaction.NewTxInput(lockupHash[:], params.Vout)
	txIn.Sequence = params.Sequence
	txIn.Script = params.ScriptSig
	tx.AddInput(txIn)

	// The receive output is blinded before the sighash is computed since
	// its commitments are covered by the signature.
	receiveOut, err := blindOutput(
		blindingInput{
			Value:        unblinded.Value,
			Asset:        unblinded.Asset,
			AssetBlinder: unblinded.AssetBlindingFactor,
			ValueBlinder: unblinded.ValueBlindingFactor,
		},
		unblinded.Value-params.Fee, receive.Script, receive.BlindingKey,
	)
	if err != nil {
		return nil, err
	}
	tx.AddOutput(receiveOut)

	feeValue, err := elementsutil.ValueToBytes(params.Fee)
	if err != nil {
		return nil, err
	}
	tx.AddOutput(transaction.NewTxOutput(nativeAsset, feeValue, []byte{}))

	sigHash := tx.HashForWitnessV0(0, params.RedeemScript, prevOut.Value, txscript.SigHashAll)
	sig := ecdsa.Sign(params.PrivateKey, sigHash[:])
	tx.Inputs[0].Witness = transaction.TxWitness{
		append(sig.Serialize(), byte(txscript.SigHashAll)),
		params.Preimage,
		params.RedeemScript,
	}

	txHex, err := tx.ToHex()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return &SpendTx{Txid: tx.TxHash().String(), Hex: txHex}, nil
}

func findConfidentialOutput(txHex string, script []byte) (uint32, uint64, bool, error) {
	tx, err := transaction.NewTxFromHex(txHex)
	if err != nil {
		return 0, 0, false, fmt.Errorf("%w: failed to deserialize transaction: %s", ErrInvalidInput, err)
	}
	for i, out := range tx.Outputs {
		if !bytes.Equal(out.Script, script) {
			continue
		}
		var value uint64
		if len(out.Value) == 9 && out.Value[0] == 1 {
			value, _ = elementsutil.ValueFromBytes(out.Value)
		}
		return uint32(i), value, true, nil
	}
	return 0, 0, false, nil
}

func confidentialTxID(txHex string) (string, error) {
	tx, err := transaction.NewTxFromHex(txHex)
	if err != nil {
		return "", fmt.Errorf("%w: failed to deserialize transaction: %s", ErrInvalidInput, err)
	}
	return tx.TxHash().String(), nil
}
