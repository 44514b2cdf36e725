package onchain

import (
	"bytes"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/vulpemventures/go-elements/confidential"
	"github.com/vulpemventures/go-elements/transaction"
)

// blindingInput is the unblinded view of the single input a blinded output
// is balanced against.
type blindingInput struct {
	Value        uint64
	Asset        []byte
	AssetBlinder []byte
	ValueBlinder []byte
}

// blindOutput creates an output of value paying to script that only the
// owner of blindingPubKey can unblind. Explicit outputs next to it, like
// the fee, carry zero blinders and do not take part in the balance.
//
// The input slices are copied first: unblinded assets and blinders share
// one backing array and the range proof appends to the asset.
func blindOutput(in blindingInput, value uint64, script, blindingPubKey []byte) (*transaction.TxOutput, error) {
	in = blindingInput{
		Value:        in.Value,
		Asset:        bytes.Clone(in.Asset),
		AssetBlinder: bytes.Clone(in.AssetBlinder),
		ValueBlinder: bytes.Clone(in.ValueBlinder),
	}

	assetBlinder, err := randomBytes()
	if err != nil {
		return nil, err
	}

	valueBlinder, err := confidential.FinalValueBlindingFactor(confidential.FinalValueBlindingFactorArgs{
		InValues:      []uint64{in.Value},
		OutValues:     []uint64{value},
		InGenerators:  [][]byte{in.AssetBlinder},
		OutGenerators: [][]byte{assetBlinder},
		InFactors:     [][]byte{in.ValueBlinder},
		OutFactors:    [][]byte{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute value blinder: %w", err)
	}

	assetCommitment, err := confidential.AssetCommitment(in.Asset, assetBlinder)
	if err != nil {
		return nil, fmt.Errorf("failed to commit asset: %w", err)
	}
	valueCommitment, err := confidential.ValueCommitment(value, assetCommitment, valueBlinder[:])
	if err != nil {
		return nil, fmt.Errorf("failed to commit value: %w", err)
	}

	ephemeralKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	nonce, err := confidential.NonceHash(blindingPubKey, ephemeralKey.Serialize())
	if err != nil {
		return nil, fmt.Errorf("failed to derive blinding nonce: %w", err)
	}

	rangeProof, err := confidential.RangeProof(confidential.RangeProofArgs{
		Value:               value,
		Nonce:               nonce,
		Asset:               bytes.Clone(in.Asset),
		AssetBlindingFactor: assetBlinder,
		ValueBlindFactor:    valueBlinder,
		ValueCommit:         valueCommitment,
		ScriptPubkey:        script,
		Exp:                 0,
		MinBits:             52,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create range proof: %w", err)
	}

	seed, err := randomBytes()
	if err != nil {
		return nil, err
	}
	surjectionProof, ok := confidential.SurjectionProof(confidential.SurjectionProofArgs{
		OutputAsset:               in.Asset,
		OutputAssetBlindingFactor: assetBlinder,
		InputAssets:               [][]byte{in.Asset},
		InputAssetBlindingFactors: [][]byte{in.AssetBlinder},
		Seed:                      seed,
	})
	if !ok {
		return nil, fmt.Errorf("failed to create surjection proof")
	}

	return &transaction.TxOutput{
		Asset:           assetCommitment,
		Value:           valueCommitment,
		Script:          script,
		Nonce:           ephemeralKey.PubKey().SerializeCompressed(),
		RangeProof:      rangeProof,
		SurjectionProof: surjectionProof,
	}, nil
}

// BlindExplicitOutput blinds an output of value in asset paying to script,
// funded from explicit coins.
func BlindExplicitOutput(asset []byte, value uint64, script, blindingPubKey []byte) (*transaction.TxOutput, error) {
	zero := make([]byte, 32)
	return blindOutput(
		blindingInput{Value: value, Asset: asset, AssetBlinder: zero, ValueBlinder: zero},
		value, script, blindingPubKey,
	)
}

func randomBytes() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return buf, nil
}
