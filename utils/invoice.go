package utils

import (
	"encoding/hex"
	"fmt"

	decodepay "github.com/nbd-wtf/ln-decodepay"
)

// DecodeInvoice returns the amount in sats and the payment hash of a
// BOLT11 invoice.
func DecodeInvoice(invoice string) (uint64, []byte, error) {
	bolt11, err := decodepay.Decodepay(invoice)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid invoice: %w", err)
	}

	amount := uint64(bolt11.MSatoshi / 1000)
	preimageHash, err := hex.DecodeString(bolt11.PaymentHash)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid invoice payment hash: %w", err)
	}

	return amount, preimageHash, nil
}

func IsValidInvoice(invoice string) bool {
	amount, _, err := DecodeInvoice(invoice)
	return err == nil && amount > 0
}
