package swap

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ArkLabsHQ/boltz-swap/pkg/explorer"
	"github.com/ArkLabsHQ/boltz-swap/pkg/onchain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/lightningnetwork/lnd/input"
)

// validatePreimage validates a preimage against its expected hash160.
// It checks both the length (must be 32 bytes) and that the hash matches.
func validatePreimage(preimage, expectedHash []byte) error {
	if len(preimage) != 32 {
		return fmt.Errorf("preimage must be 32 bytes, got %d", len(preimage))
	}

	buf := sha256.Sum256(preimage)
	preimageHash := input.Ripemd160H(buf[:])
	if !bytes.Equal(preimageHash, expectedHash) {
		return fmt.Errorf("preimage hash mismatch: expected %x, got %x",
			expectedHash, preimageHash)
	}

	return nil
}

func parsePubkey(pubkey string) (*secp256k1.PublicKey, error) {
	if len(pubkey) <= 0 {
		return nil, fmt.Errorf("missing pubkey")
	}

	dec, err := hex.DecodeString(pubkey)
	if err != nil {
		return nil, fmt.Errorf("invalid pubkey: %s", err)
	}

	pk, err := secp256k1.ParsePubKey(dec)
	if err != nil {
		return nil, fmt.Errorf("invalid pubkey: %s", err)
	}

	return pk, nil
}

func decodeHex(name, s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s: %s", ErrInvalidInput, name, err)
	}
	return b, nil
}

// verifyLockup checks that the raw lockup transaction fetched from the
// backend is the reported one and pays script at the reported output. On
// plain chains the value is taken from the raw transaction.
func verifyLockup(chain *onchain.Chain, lockup *explorer.LockupOutput, script []byte) error {
	txid, err := onchain.TxID(chain, lockup.TxHex)
	if err != nil {
		return err
	}
	if txid != lockup.Txid {
		return fmt.Errorf("%w: raw transaction %s is not lockup %s", onchain.ErrLockupMismatch, txid, lockup.Txid)
	}

	vout, value, found, err := onchain.FindOutput(chain, lockup.TxHex, script)
	if err != nil {
		return err
	}
	if !found || vout != lockup.Vout {
		return fmt.Errorf(
			"%w: output %d of %s does not pay the swap script", onchain.ErrLockupMismatch, lockup.Vout, txid,
		)
	}
	if chain.Kind == onchain.Plain {
		lockup.Value = value
	}
	return nil
}
