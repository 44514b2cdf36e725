package explorer

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ArkLabsHQ/boltz-swap/pkg/onchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	feeTargetBlocks = 3

	minBitcoinFeeRate = 1
	minLiquidFeeRate  = 0.1
)

// electrumService implements the Service interface using Electrum protocol
type electrumService struct {
	client *ElectrumClient
	chain  *onchain.Chain
}

// NewElectrumService creates a new Electrum-based blockchain service
func NewElectrumService(chain *onchain.Chain, url string) Service {
	return &electrumService{
		client: NewElectrumClient(url, defaultTimeout),
		chain:  chain,
	}
}

func (s *electrumService) GetBlockHeight(ctx context.Context) (uint32, error) {
	height, err := s.client.GetBlockchainHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("electrum get height: %w", err)
	}
	return height, nil
}

// GetFeeRate converts the BTC/kvB estimate of the server to sat/vbyte.
// Servers without enough data answer -1, the relay minimum is used then.
func (s *electrumService) GetFeeRate(ctx context.Context) (float64, error) {
	result, err := s.client.call(ctx, "blockchain.estimatefee", feeTargetBlocks)
	if err != nil {
		return 0, fmt.Errorf("estimatefee failed: %w", err)
	}

	var btcPerKvB float64
	if err := json.Unmarshal(result, &btcPerKvB); err != nil {
		return 0, fmt.Errorf("failed to parse fee estimate: %w", err)
	}

	minRate := float64(minBitcoinFeeRate)
	if s.chain.Kind == onchain.Confidential {
		minRate = minLiquidFeeRate
	}
	rate := btcPerKvB * 1e5
	if rate < minRate {
		return minRate, nil
	}
	return rate, nil
}

func (s *electrumService) GetTransactionHex(ctx context.Context, txid string) (string, error) {
	result, err := s.client.call(ctx, "blockchain.transaction.get", txid)
	if err != nil {
		var rpcErr *ElectrumError
		if errors.As(err, &rpcErr) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, rpcErr.Message)
		}
		return "", fmt.Errorf("get transaction failed: %w", err)
	}

	var txHex string
	if err := json.Unmarshal(result, &txHex); err != nil {
		return "", fmt.Errorf("failed to parse transaction: %w", err)
	}
	return txHex, nil
}

// GetTransaction derives the confirmation status from the history of the
// first output with a non empty script.
func (s *electrumService) GetTransaction(ctx context.Context, txid string) (*Transaction, error) {
	tx, err := s.decodeTransaction(ctx, txid)
	if err != nil {
		return nil, err
	}

	for _, out := range tx.Outputs {
		if len(out.Script) == 0 {
			continue
		}
		history, err := s.GetScriptHashHistory(ctx, scriptPubKeyToScriptHash(out.Script))
		if err != nil {
			return nil, err
		}
		for _, item := range history {
			if item.TxHash == txid && item.Height > 0 {
				tx.Confirmed = true
				tx.BlockHeight = uint32(item.Height)
			}
		}
		break
	}
	return tx, nil
}

func (s *electrumService) GetAddressTransactions(ctx context.Context, address string) ([]Transaction, error) {
	script, err := onchain.AddressScript(address, s.chain)
	if err != nil {
		return nil, err
	}

	history, err := s.GetScriptHashHistory(ctx, scriptPubKeyToScriptHash(script))
	if err != nil {
		return nil, err
	}

	txs := make([]Transaction, 0, len(history))
	for _, item := range history {
		tx, err := s.decodeTransaction(ctx, item.TxHash)
		if err != nil {
			return nil, err
		}
		if item.Height > 0 {
			tx.Confirmed = true
			tx.BlockHeight = uint32(item.Height)
		}
		txs = append(txs, *tx)
	}
	return txs, nil
}

func (s *electrumService) BroadcastTransaction(ctx context.Context, txHex string) (string, error) {
	result, err := s.client.call(ctx, "blockchain.transaction.broadcast", txHex)
	if err != nil {
		var rpcErr *ElectrumError
		if errors.As(err, &rpcErr) {
			return "", &BroadcastError{Reason: rpcErr.Message}
		}
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	var txid string
	if err := json.Unmarshal(result, &txid); err != nil {
		return "", fmt.Errorf("failed to parse broadcast result: %w", err)
	}
	return txid, nil
}

// TransactionItem is an entry of a script hash history. Height is 0 or
// negative for unconfirmed transactions.
type TransactionItem struct {
	Height int64
	TxHash string
	Fee    int64
}

// GetScriptHashHistory retrieves the transaction history for a script hash
func (s *electrumService) GetScriptHashHistory(ctx context.Context, scriptHash string) ([]TransactionItem, error) {
	result, err := s.client.call(ctx, "blockchain.scripthash.get_history", scriptHash)
	if err != nil {
		return nil, fmt.Errorf("get_history failed: %w", err)
	}

	var history []struct {
		Height int64  `json:"height"`
		TxHash string `json:"tx_hash"`
		Fee    int64  `json:"fee,omitempty"`
	}

	if err := json.Unmarshal(result, &history); err != nil {
		return nil, fmt.Errorf("failed to parse history: %w", err)
	}

	items := make([]TransactionItem, len(history))
	for i, h := range history {
		items[i] = TransactionItem{
			Height: h.Height,
			TxHash: h.TxHash,
			Fee:    h.Fee,
		}
	}

	return items, nil
}

// Close closes the Electrum connection
func (s *electrumService) Close() error {
	s.client.Close()
	return nil
}

func (s *electrumService) decodeTransaction(ctx context.Context, txid string) (*Transaction, error) {
	txHex, err := s.GetTransactionHex(ctx, txid)
	if err != nil {
		return nil, err
	}
	outs, err := onchain.DecodeOutputs(s.chain, txHex)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{Txid: txid, Outputs: make([]Output, 0, len(outs))}
	for _, out := range outs {
		tx.Outputs = append(tx.Outputs, Output{Script: out.Script, Value: out.Value})
	}
	return tx, nil
}

// scriptPubKeyToScriptHash converts a script pubkey to Electrum script hash,
// the sha256 of the script in reversed byte order.
func scriptPubKeyToScriptHash(scriptPubKey []byte) string {
	return chainhash.Hash(sha256.Sum256(scriptPubKey)).String()
}

// AddressToScriptHash converts an address of chain to its Electrum script hash.
func AddressToScriptHash(address string, chain *onchain.Chain) (string, error) {
	script, err := onchain.AddressScript(address, chain)
	if err != nil {
		return "", err
	}
	return scriptPubKeyToScriptHash(script), nil
}
