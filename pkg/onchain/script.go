package onchain

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/lightningnetwork/lnd/input"
)

// SwapScript holds the spending conditions of a Boltz redeem script.
type SwapScript struct {
	// Hash160 of the preimage, ie. ripemd160(sha256(preimage)).
	PreimageHash       []byte
	ClaimPubKey        *btcec.PublicKey
	RefundPubKey       *btcec.PublicKey
	TimeoutBlockHeight uint32
	Reverse            bool
}

// SubmarineScript builds the redeem script Boltz issues for submarine swaps:
//
//	OP_HASH160 <hash> OP_EQUAL
//	OP_IF <claim key>
//	OP_ELSE <timeout> OP_CHECKLOCKTIMEVERIFY OP_DROP <refund key>
//	OP_ENDIF OP_CHECKSIG
func SubmarineScript(preimageHash160 []byte, claimKey, refundKey *btcec.PublicKey, timeout uint32) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(preimageHash160).
		AddOp(txscript.OP_EQUAL).
		AddOp(txscript.OP_IF).
		AddData(claimKey.SerializeCompressed()).
		AddOp(txscript.OP_ELSE).
		AddInt64(int64(timeout)).
		AddOp(txscript.OP_CHECKLOCKTIMEVERIFY).
		AddOp(txscript.OP_DROP).
		AddData(refundKey.SerializeCompressed()).
		AddOp(txscript.OP_ENDIF).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// ReverseScript builds the redeem script Boltz issues for reverse swaps:
//
//	OP_SIZE 32 OP_EQUAL
//	OP_IF OP_HASH160 <hash> OP_EQUALVERIFY <claim key>
//	OP_ELSE OP_DROP <timeout> OP_CHECKLOCKTIMEVERIFY OP_DROP <refund key>
//	OP_ENDIF OP_CHECKSIG
func ReverseScript(preimageHash160 []byte, claimKey, refundKey *btcec.PublicKey, timeout uint32) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_SIZE).
		AddData([]byte{32}).
		AddOp(txscript.OP_EQUAL).
		AddOp(txscript.OP_IF).
		AddOp(txscript.OP_HASH160).
		AddData(preimageHash160).
		AddOp(txscript.OP_EQUALVERIFY).
		AddData(claimKey.SerializeCompressed()).
		AddOp(txscript.OP_ELSE).
		AddOp(txscript.OP_DROP).
		AddInt64(int64(timeout)).
		AddOp(txscript.OP_CHECKLOCKTIMEVERIFY).
		AddOp(txscript.OP_DROP).
		AddData(refundKey.SerializeCompressed()).
		AddOp(txscript.OP_ENDIF).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

type scriptToken struct {
	opcode byte
	data   []byte
}

// ParseSwapScript recognizes both redeem script shapes and extracts their
// keys, hash lock and timeout.
func ParseSwapScript(script []byte) (*SwapScript, error) {
	var tokens []scriptToken
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		tokens = append(tokens, scriptToken{tokenizer.Opcode(), tokenizer.Data()})
	}
	if err := tokenizer.Err(); err != nil {
		return nil, fmt.Errorf("%w: malformed redeem script: %s", ErrInvalidInput, err)
	}

	var (
		swap    SwapScript
		pattern []byte
	)
	// Zero entries in a pattern stand for pushes captured below.
	switch {
	case len(tokens) == 12 && tokens[0].opcode == txscript.OP_HASH160:
		pattern = []byte{
			txscript.OP_HASH160, 0, txscript.OP_EQUAL, txscript.OP_IF, 0,
			txscript.OP_ELSE, 0, txscript.OP_CHECKLOCKTIMEVERIFY,
			txscript.OP_DROP, 0, txscript.OP_ENDIF, txscript.OP_CHECKSIG,
		}
		swap.PreimageHash = tokens[1].data
		swap.ClaimPubKey, swap.RefundPubKey = parseKeys(tokens[4].data, tokens[9].data)
		swap.TimeoutBlockHeight = scriptNum(tokens[6])
	case len(tokens) == 16 && tokens[0].opcode == txscript.OP_SIZE:
		pattern = []byte{
			txscript.OP_SIZE, 0, txscript.OP_EQUAL, txscript.OP_IF,
			txscript.OP_HASH160, 0, txscript.OP_EQUALVERIFY, 0, txscript.OP_ELSE,
			txscript.OP_DROP, 0, txscript.OP_CHECKLOCKTIMEVERIFY, txscript.OP_DROP,
			0, txscript.OP_ENDIF, txscript.OP_CHECKSIG,
		}
		if !bytes.Equal(tokens[1].data, []byte{32}) {
			return nil, fmt.Errorf("%w: unexpected preimage size check", ErrInvalidInput)
		}
		swap.Reverse = true
		swap.PreimageHash = tokens[5].data
		swap.ClaimPubKey, swap.RefundPubKey = parseKeys(tokens[7].data, tokens[13].data)
		swap.TimeoutBlockHeight = scriptNum(tokens[10])
	default:
		return nil, fmt.Errorf("%w: unknown redeem script", ErrInvalidInput)
	}

	for i, op := range pattern {
		if op != 0 && tokens[i].opcode != op {
			return nil, fmt.Errorf("%w: unexpected opcode at position %d", ErrInvalidInput, i)
		}
	}
	if len(swap.PreimageHash) != 20 {
		return nil, fmt.Errorf("%w: preimage hash must be 20 bytes", ErrInvalidInput)
	}
	if swap.ClaimPubKey == nil || swap.RefundPubKey == nil {
		return nil, fmt.Errorf("%w: invalid public key in redeem script", ErrInvalidInput)
	}
	if swap.TimeoutBlockHeight == 0 {
		return nil, fmt.Errorf("%w: invalid timeout in redeem script", ErrInvalidInput)
	}

	return &swap, nil
}

// LockupScripts returns the native P2WSH and the P2SH wrapped P2WSH output
// scripts a lockup address for redeemScript may pay to.
func LockupScripts(redeemScript []byte) (p2wsh, p2shP2wsh []byte, err error) {
	p2wsh, err = input.WitnessScriptHash(redeemScript)
	if err != nil {
		return nil, nil, err
	}
	p2shP2wsh, err = txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(p2wsh)).
		AddOp(txscript.OP_EQUAL).
		Script()
	if err != nil {
		return nil, nil, err
	}
	return p2wsh, p2shP2wsh, nil
}

// VerifyLockupAddress makes sure a server provided lockup address pays to
// redeemScript and returns the matching output script.
func VerifyLockupAddress(addr string, redeemScript []byte, chain *Chain) ([]byte, error) {
	script, err := AddressScript(addr, chain)
	if err != nil {
		return nil, err
	}
	p2wsh, p2shP2wsh, err := LockupScripts(redeemScript)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(script, p2wsh) && !bytes.Equal(script, p2shP2wsh) {
		return nil, ErrLockupMismatch
	}
	return script, nil
}

// RefundScriptSig is the P2SH-P2WSH envelope: a single push of the witness
// program {0x00, 0x20, sha256(redeemScript)}.
func RefundScriptSig(redeemScript []byte) ([]byte, error) {
	p2wsh, err := input.WitnessScriptHash(redeemScript)
	if err != nil {
		return nil, err
	}
	return txscript.NewScriptBuilder().AddData(p2wsh).Script()
}

func parseKeys(claim, refund []byte) (*btcec.PublicKey, *btcec.PublicKey) {
	claimKey, err := secp256k1.ParsePubKey(claim)
	if err != nil {
		return nil, nil
	}
	refundKey, err := secp256k1.ParsePubKey(refund)
	if err != nil {
		return nil, nil
	}
	return claimKey, refundKey
}

// scriptNum decodes a minimally encoded little endian script number.
func scriptNum(tok scriptToken) uint32 {
	if tok.opcode >= txscript.OP_1 && tok.opcode <= txscript.OP_16 {
		return uint32(tok.opcode - (txscript.OP_1 - 1))
	}
	if len(tok.data) == 0 || len(tok.data) > 5 || tok.data[len(tok.data)-1]&0x80 != 0 {
		return 0
	}
	var n uint64
	for i, b := range tok.data {
		n |= uint64(b) << (8 * uint(i))
	}
	if n > uint64(^uint32(0)) {
		return 0
	}
	return uint32(n)
}
