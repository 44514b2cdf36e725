package onchain

import (
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
)

const (
	// LegacySpendVSize is the flat size older clients assumed for any spend.
	LegacySpendVSize = 200

	// confidentialOutputVSize approximates the discounted weight of the
	// range and surjection proofs of one blinded output plus the explicit
	// fee output.
	confidentialOutputVSize = 1100

	maxSignatureSize = 73
)

// LegacyFee is the flat fallback fee used when nothing better is known.
func LegacyFee(satPerVByte float64) uint64 {
	return uint64(math.Ceil(LegacySpendVSize * satPerVByte))
}

// EstimateSpendFee estimates the fee of spending a lockup output guarded by
// redeemScript at the given fee rate.
func EstimateSpendFee(chain *Chain, redeemScript []byte, refund bool, satPerVByte float64) uint64 {
	vsize := spendVSize(redeemScript, refund)
	if chain.Kind == Confidential {
		vsize += confidentialOutputVSize
	}
	return uint64(math.Ceil(float64(vsize) * satPerVByte))
}

func spendVSize(redeemScript []byte, refund bool) lntypes.VByte {
	tx := wire.NewMsgTx(2)

	txIn := wire.NewTxIn(&wire.OutPoint{Hash: chainhash.Hash{}}, nil, nil)
	preimage := make([]byte, lntypes.PreimageSize)
	if refund {
		txIn.SignatureScript = make([]byte, 35)
		preimage = []byte{}
	}
	txIn.Witness = wire.TxWitness{make([]byte, maxSignatureSize), preimage, redeemScript}
	tx.AddTxIn(txIn)

	// P2WSH is the largest output script a receive address commonly has.
	tx.AddTxOut(wire.NewTxOut(0, make([]byte, 34)))

	return computeVSize(tx)
}

func computeVSize(tx *wire.MsgTx) lntypes.VByte {
	baseSize := tx.SerializeSizeStripped()
	totalSize := tx.SerializeSize()
	weight := totalSize + baseSize*3
	return lntypes.WeightUnit(uint64(weight)).ToVB()
}
