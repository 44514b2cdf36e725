package mockboltz

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
)

// NewInvoice encodes a BOLT11 invoice for paymentHash signed by a throwaway
// node key.
func NewInvoice(params *chaincfg.Params, paymentHash []byte, amountSat uint64, description string) (string, error) {
	if len(paymentHash) != chainhash.HashSize {
		return "", fmt.Errorf("payment hash must be %d bytes", chainhash.HashSize)
	}
	var hash [chainhash.HashSize]byte
	copy(hash[:], paymentHash)

	nodeKey, err := btcec.NewPrivateKey()
	if err != nil {
		return "", err
	}

	invoice, err := zpay32.NewInvoice(
		params, hash, time.Now(),
		zpay32.Description(description),
		zpay32.Amount(lnwire.MilliSatoshi(amountSat*1000)),
	)
	if err != nil {
		return "", err
	}

	return invoice.Encode(zpay32.MessageSigner{
		SignCompact: func(hash []byte) ([]byte, error) {
			return ecdsa.SignCompact(nodeKey, hash, true)
		},
	})
}
