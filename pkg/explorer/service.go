package explorer

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/ArkLabsHQ/boltz-swap/pkg/onchain"
)

const defaultTimeout = 10 * time.Second

type Service interface {
	GetBlockHeight(ctx context.Context) (uint32, error)
	// GetFeeRate returns the sat/vbyte rate for confirmation within about
	// half an hour.
	GetFeeRate(ctx context.Context) (float64, error)
	GetTransaction(ctx context.Context, txid string) (*Transaction, error)
	GetTransactionHex(ctx context.Context, txid string) (string, error)
	GetAddressTransactions(ctx context.Context, address string) ([]Transaction, error)
	BroadcastTransaction(ctx context.Context, txHex string) (string, error)
	Close() error
}

type Transaction struct {
	Txid        string
	Confirmed   bool
	BlockHeight uint32
	Outputs     []Output
}

// Output of a chain transaction. Value is zero for blinded outputs and
// Address is empty when the backend does not report it.
type Output struct {
	Script  []byte
	Address string
	Value   uint64
}

// NewService returns an Electrum backed service when electrumURL is set
// and an esplora HTTP one otherwise.
func NewService(chain *onchain.Chain, esploraURL, electrumURL string) Service {
	if electrumURL != "" {
		return NewElectrumService(chain, electrumURL)
	}
	return NewHTTPService(esploraURL)
}

// esploraTx is the transaction shape shared by the esplora REST API and the
// mempool websocket.
type esploraTx struct {
	Txid string `json:"txid"`
	Vout []struct {
		ScriptPubKey        string `json:"scriptpubkey"`
		ScriptPubKeyAddress string `json:"scriptpubkey_address"`
		Value               uint64 `json:"value"`
	} `json:"vout"`
	Status struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight uint32 `json:"block_height"`
	} `json:"status"`
}

func (tx esploraTx) toTransaction() (*Transaction, error) {
	outs := make([]Output, 0, len(tx.Vout))
	for _, out := range tx.Vout {
		script, err := hex.DecodeString(out.ScriptPubKey)
		if err != nil {
			return nil, err
		}
		outs = append(outs, Output{
			Script:  script,
			Address: out.ScriptPubKeyAddress,
			Value:   out.Value,
		})
	}
	return &Transaction{
		Txid:        tx.Txid,
		Confirmed:   tx.Status.Confirmed,
		BlockHeight: tx.Status.BlockHeight,
		Outputs:     outs,
	}, nil
}
