package onchain

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/ccoveille/go-safecast"
	"github.com/vulpemventures/go-elements/elementsutil"
	"github.com/vulpemventures/go-elements/transaction"
)

const (
	// ClaimSequence opts out of relative timelocks.
	ClaimSequence = wire.MaxTxInSequenceNum
	// RefundSequence enables the absolute locktime the refund path needs.
	RefundSequence = wire.MaxTxInSequenceNum - 1
)

// SpendParams describes how to spend a single lockup output.
type SpendParams struct {
	// LockupTx is the raw hex of the transaction holding the lockup output.
	LockupTx       string
	Vout           uint32
	RedeemScript   []byte
	ReceiveAddress string
	PrivateKey     *btcec.PrivateKey
	Fee            uint64

	Sequence uint32
	Locktime uint32
	// Preimage is empty for refunds.
	Preimage  []byte
	ScriptSig []byte

	// BlindingKey unblinds the lockup output on confidential chains.
	BlindingKey []byte
	// MinValue is the least the lockup output must hold, zero disables it.
	MinValue uint64
}

type SpendTx struct {
	Txid string
	Hex  string
}

func NewClaimParams(
	lockupTx string, vout uint32, redeemScript []byte, receiveAddress string,
	key *btcec.PrivateKey, preimage []byte, fee uint64, blindingKey []byte,
) SpendParams {
	return SpendParams{
		LockupTx:       lockupTx,
		Vout:           vout,
		RedeemScript:   redeemScript,
		ReceiveAddress: receiveAddress,
		PrivateKey:     key,
		Fee:            fee,
		Sequence:       ClaimSequence,
		Preimage:       preimage,
		BlindingKey:    blindingKey,
	}
}

func NewRefundParams(
	lockupTx string, vout uint32, redeemScript []byte, receiveAddress string,
	key *btcec.PrivateKey, timeoutBlockHeight uint32, fee uint64, blindingKey []byte,
) (SpendParams, error) {
	scriptSig, err := RefundScriptSig(redeemScript)
	if err != nil {
		return SpendParams{}, err
	}
	return SpendParams{
		LockupTx:       lockupTx,
		Vout:           vout,
		RedeemScript:   redeemScript,
		ReceiveAddress: receiveAddress,
		PrivateKey:     key,
		Fee:            fee,
		Sequence:       RefundSequence,
		Locktime:       timeoutBlockHeight,
		Preimage:       []byte{},
		ScriptSig:      scriptSig,
		BlindingKey:    blindingKey,
	}, nil
}

// BuildSpendTx builds and signs the claim or refund transaction described
// by params. It performs no I/O.
func BuildSpendTx(chain *Chain, params SpendParams) (*SpendTx, error) {
	if params.PrivateKey == nil {
		return nil, fmt.Errorf("%w: missing private key", ErrInvalidInput)
	}
	if len(params.RedeemScript) == 0 {
		return nil, fmt.Errorf("%w: missing redeem script", ErrInvalidInput)
	}
	if params.Preimage == nil {
		params.Preimage = []byte{}
	}

	switch chain.Kind {
	case Confidential:
		return buildConfidentialSpendTx(chain, params)
	default:
		return buildPlainSpendTx(chain, params)
	}
}

func buildPlainSpendTx(chain *Chain, params SpendParams) (*SpendTx, error) {
	lockupTx, err := DeserializeTx(params.LockupTx)
	if err != nil {
		return nil, err
	}
	if int(params.Vout) >= len(lockupTx.TxOut) {
		return nil, fmt.Errorf("%w: lockup tx has no output %d", ErrInvalidInput, params.Vout)
	}
	prevOut := lockupTx.TxOut[params.Vout]
	if prevOut.Value > 0 && uint64(prevOut.Value) < params.MinValue {
		return nil, &LockupValueError{Value: uint64(prevOut.Value), Minimum: params.MinValue}
	}
	if prevOut.Value <= 0 || params.Fee >= uint64(prevOut.Value) {
		return nil, fmt.Errorf(
			"%w: fee %d must be lower than lockup value %d", ErrInvalidInput, params.Fee, prevOut.Value,
		)
	}

	outScript, err := AddressScript(params.ReceiveAddress, chain)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(2)
	tx.LockTime = params.Locktime

	txIn := wire.NewTxIn(&wire.OutPoint{Hash: lockupTx.TxHash(), Index: params.Vout}, params.ScriptSig, nil)
	txIn.Sequence = params.Sequence
	tx.AddTxIn(txIn)
	tx.AddTxOut(wire.NewTxOut(prevOut.Value-int64(params.Fee), outScript))

	fetcher := txscript.NewCannedPrevOutputFetcher(prevOut.PkScript, prevOut.Value)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	sig, err := txscript.RawTxInWitnessSignature(
		tx, sigHashes, 0, prevOut.Value, params.RedeemScript, txscript.SigHashAll, params.PrivateKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sign spend tx: %w", err)
	}
	txIn.Witness = wire.TxWitness{sig, params.Preimage, params.RedeemScript}

	txHex, err := SerializeTx(tx)
	if err != nil {
		return nil, err
	}
	return &SpendTx{Txid: tx.TxHash().String(), Hex: txHex}, nil
}

func SerializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func DeserializeTx(txHex string) (*wire.MsgTx, error) {
	txBytes, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid tx hex: %s", ErrInvalidInput, err)
	}

	tx := wire.NewMsgTx(2)
	if err := tx.Deserialize(bytes.NewReader(txBytes)); err != nil {
		return nil, fmt.Errorf("%w: failed to deserialize transaction: %s", ErrInvalidInput, err)
	}
	return tx, nil
}

// FindOutput returns the first output of the raw transaction paying to
// script. A missing output is reported through found, not as an error.
// Values of blinded outputs are reported as zero.
func FindOutput(chain *Chain, txHex string, script []byte) (vout uint32, value uint64, found bool, err error) {
	if chain.Kind == Confidential {
		return findConfidentialOutput(txHex, script)
	}

	tx, err := DeserializeTx(txHex)
	if err != nil {
		return 0, 0, false, err
	}
	for i, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, script) {
			if out.Value <= 0 {
				return 0, 0, false, fmt.Errorf("matched output %d has non-positive value %d", i, out.Value)
			}
			return uint32(i), uint64(out.Value), true, nil
		}
	}
	return 0, 0, false, nil
}

// TxID returns the id of a raw transaction.
func TxID(chain *Chain, txHex string) (string, error) {
	if chain.Kind == Confidential {
		return confidentialTxID(txHex)
	}
	tx, err := DeserializeTx(txHex)
	if err != nil {
		return "", err
	}
	return tx.TxHash().String(), nil
}

// Output is an output of a raw transaction. Value is zero for blinded
// outputs.
type Output struct {
	Script []byte
	Value  uint64
}

func DecodeOutputs(chain *Chain, txHex string) ([]Output, error) {
	if chain.Kind == Confidential {
		tx, err := transaction.NewTxFromHex(txHex)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to deserialize transaction: %s", ErrInvalidInput, err)
		}
		outs := make([]Output, 0, len(tx.Outputs))
		for _, out := range tx.Outputs {
			var value uint64
			if len(out.Value) == 9 && out.Value[0] == 1 {
				value, _ = elementsutil.ValueFromBytes(out.Value)
			}
			outs = append(outs, Output{Script: out.Script, Value: value})
		}
		return outs, nil
	}

	tx, err := DeserializeTx(txHex)
	if err != nil {
		return nil, err
	}
	outs := make([]Output, 0, len(tx.TxOut))
	for _, out := range tx.TxOut {
		value, err := safecast.ToUint64(out.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: negative output value", ErrInvalidInput)
		}
		outs = append(outs, Output{Script: out.PkScript, Value: value})
	}
	return outs, nil
}
