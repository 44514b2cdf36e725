package onchain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lntypes"
)

// KeyPair is an ephemeral per-swap key. The private key is WIF encoded for
// the chain it was generated for.
type KeyPair struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

// Preimage is the hex encoded swap secret and its sha256 hash.
type Preimage struct {
	Preimage string `json:"preimage"`
	Hash     string `json:"preimageHash"`
}

func GenerateKeyPair(chain *Chain) (*KeyPair, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	wif, err := btcutil.NewWIF(key, chain.wifParams(), true)
	if err != nil {
		return nil, fmt.Errorf("failed to encode private key: %w", err)
	}

	return &KeyPair{
		PrivateKey: wif.String(),
		PublicKey:  hex.EncodeToString(key.PubKey().SerializeCompressed()),
	}, nil
}

// ParsePrivateKey decodes a WIF key and checks it was encoded for chain.
func ParsePrivateKey(chain *Chain, wif string) (*btcec.PrivateKey, error) {
	decoded, err := btcutil.DecodeWIF(wif)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid private key: %s", ErrInvalidInput, err)
	}
	if !decoded.IsForNet(chain.wifParams()) {
		return nil, fmt.Errorf("%w: private key is not encoded for %s", ErrInvalidInput, chain.Name())
	}
	return decoded.PrivKey, nil
}

func GeneratePreimage() (*Preimage, error) {
	var buf [lntypes.PreimageSize]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}

	preimage := lntypes.Preimage(buf)
	hash := preimage.Hash()

	return &Preimage{
		Preimage: preimage.String(),
		Hash:     hash.String(),
	}, nil
}

func ParsePreimage(preimageHex string) (lntypes.Preimage, error) {
	preimage, err := lntypes.MakePreimageFromStr(preimageHex)
	if err != nil {
		return lntypes.Preimage{}, fmt.Errorf("%w: invalid preimage: %s", ErrInvalidInput, err)
	}
	return preimage, nil
}
