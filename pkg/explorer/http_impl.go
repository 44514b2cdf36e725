package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// httpService implements the Service interface using HTTP REST API (Esplora)
type httpService struct {
	baseURL string
	client  *http.Client
}

// NewHTTPService creates a new HTTP-based blockchain service (Esplora)
func NewHTTPService(url string) Service {
	return &httpService{
		baseURL: strings.TrimRight(url, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

func (s *httpService) GetBlockHeight(ctx context.Context) (uint32, error) {
	b, err := s.get(ctx, s.baseURL+"/blocks/tip/height")
	if err != nil {
		return 0, fmt.Errorf("get height: %w", err)
	}

	n, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse height: %w", err)
	}
	return uint32(n), nil
}

// GetFeeRate reads halfHourFee from the mempool recommended fees and falls
// back to the 3 block esplora estimate.
func (s *httpService) GetFeeRate(ctx context.Context) (float64, error) {
	// Regtest mempool instances are usually configured with the /v1 prefix.
	apiURL := strings.TrimSuffix(s.baseURL, "/v1")

	b, err := s.get(ctx, apiURL+"/v1/fees/recommended")
	if err == nil {
		var fees struct {
			HalfHourFee float64 `json:"halfHourFee"`
		}
		if err := json.Unmarshal(b, &fees); err != nil {
			return 0, fmt.Errorf("failed to parse recommended fees: %w", err)
		}
		return fees.HalfHourFee, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, fmt.Errorf("get recommended fees: %w", err)
	}

	b, err = s.get(ctx, s.baseURL+"/fee-estimates")
	if err != nil {
		return 0, fmt.Errorf("get fee estimates: %w", err)
	}
	var estimates map[string]float64
	if err := json.Unmarshal(b, &estimates); err != nil {
		return 0, fmt.Errorf("failed to parse fee estimates: %w", err)
	}
	for _, target := range []string{"3", "2", "1"} {
		if rate, ok := estimates[target]; ok && rate > 0 {
			return rate, nil
		}
	}
	return 1, nil
}

func (s *httpService) GetTransaction(ctx context.Context, txid string) (*Transaction, error) {
	b, err := s.get(ctx, s.baseURL+"/tx/"+txid)
	if err != nil {
		return nil, fmt.Errorf("get tx %s: %w", txid, err)
	}

	var tx esploraTx
	if err := json.Unmarshal(b, &tx); err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	return tx.toTransaction()
}

func (s *httpService) GetTransactionHex(ctx context.Context, txid string) (string, error) {
	b, err := s.get(ctx, s.baseURL+"/tx/"+txid+"/hex")
	if err != nil {
		return "", fmt.Errorf("get tx hex %s: %w", txid, err)
	}
	return strings.TrimSpace(string(b)), nil
}

func (s *httpService) GetAddressTransactions(ctx context.Context, address string) ([]Transaction, error) {
	b, err := s.get(ctx, s.baseURL+"/address/"+address+"/txs")
	if err != nil {
		return nil, fmt.Errorf("get address txs: %w", err)
	}

	var txs []esploraTx
	if err := json.Unmarshal(b, &txs); err != nil {
		return nil, fmt.Errorf("failed to parse transactions: %w", err)
	}

	items := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		item, err := tx.toTransaction()
		if err != nil {
			return nil, fmt.Errorf("failed to parse transaction %s: %w", tx.Txid, err)
		}
		items = append(items, *item)
	}
	return items, nil
}

func (s *httpService) BroadcastTransaction(ctx context.Context, txHex string) (string, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, s.baseURL+"/tx", strings.NewReader(txHex),
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("failed to read broadcast response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &BroadcastError{Reason: strings.TrimSpace(string(body))}
	}
	return strings.TrimSpace(string(body)), nil
}

// Close closes any resources (no-op for HTTP)
func (s *httpService) Close() error {
	return nil
}

func (s *httpService) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return b, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(string(b)))
	default:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
}
