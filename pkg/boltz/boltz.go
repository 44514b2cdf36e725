package boltz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrPairNotFound = errors.New("pair not found")
)

type Api struct {
	URL    string
	WSURL  string
	Client http.Client
}

func (boltz *Api) Version(ctx context.Context) (*VersionResponse, error) {
	return sendGetRequest[VersionResponse](ctx, boltz, "/version")
}

func (boltz *Api) GetPairs(ctx context.Context) (*GetPairsResponse, error) {
	return sendGetRequest[GetPairsResponse](ctx, boltz, "/getpairs")
}

func (boltz *Api) GetPair(ctx context.Context, pairId string) (*Pair, error) {
	pairs, err := boltz.GetPairs(ctx)
	if err != nil {
		return nil, err
	}
	pair, ok := pairs.Pairs[pairId]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPairNotFound, pairId)
	}
	return &pair, nil
}

func (boltz *Api) CreateSwap(ctx context.Context, request CreateSwapRequest) (*CreateSwapResponse, error) {
	request.Type = SwapTypeSubmarine
	request.OrderSide = OrderSideSell

	resp, err := sendPostRequest[CreateSwapResponse](ctx, boltz, "/createswap", request)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

func (boltz *Api) CreateReverseSwap(
	ctx context.Context, request CreateReverseSwapRequest,
) (*CreateReverseSwapResponse, error) {
	request.Type = SwapTypeReverse
	request.OrderSide = OrderSideBuy

	resp, err := sendPostRequest[CreateReverseSwapResponse](ctx, boltz, "/createswap", request)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

// SwapStatus returns the current status of a swap. A status carrying a
// failure reason is returned together with a *SwapStatusError.
func (boltz *Api) SwapStatus(ctx context.Context, swapId string) (*SwapStatusResponse, error) {
	resp, err := sendPostRequest[SwapStatusResponse](ctx, boltz, "/swapstatus", swapIdRequest{swapId})
	if err != nil {
		return nil, err
	}
	if resp.FailureReason != "" {
		return resp, &SwapStatusError{Status: resp.Status, Reason: resp.FailureReason}
	}
	return resp, nil
}

// SwapTransaction returns the lockup transaction of a submarine swap. A
// response carrying a failure reason is returned together with a
// *SwapTransactionError since it may still hold the lockup hex.
func (boltz *Api) SwapTransaction(ctx context.Context, swapId string) (*SwapTransactionResponse, error) {
	resp, err := sendPostRequest[SwapTransactionResponse](ctx, boltz, "/getswaptransaction", swapIdRequest{swapId})
	if err != nil {
		return nil, err
	}
	if resp.FailureReason != "" {
		return resp, &SwapTransactionError{Reason: resp.FailureReason}
	}
	return resp, nil
}

func (boltz *Api) BroadcastTransaction(ctx context.Context, currency Currency, txHex string) (string, error) {
	resp, err := sendPostRequest[BroadcastTransactionResponse](
		ctx, boltz, "/broadcasttransaction",
		BroadcastTransactionRequest{Currency: currency, TransactionHex: txHex},
	)
	if err != nil {
		return "", err
	}
	return resp.TransactionId, nil
}

const defaultHTTPTimeout = 15 * time.Second

func sendGetRequest[T any](ctx context.Context, boltz *Api, endpoint string) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultHTTPTimeout)
	defer cancel()

	url := strings.TrimRight(boltz.URL, "/") + endpoint
	return callApi[T](ctx, &boltz.Client, http.MethodGet, url, nil)
}

func sendPostRequest[T any](ctx context.Context, boltz *Api, endpoint string, requestBody any) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultHTTPTimeout)
	defer cancel()

	url := strings.TrimRight(boltz.URL, "/") + endpoint
	return callApi[T](ctx, &boltz.Client, http.MethodPost, url, requestBody)
}

func callApi[T any](ctx context.Context, c *http.Client, method, url string, reqBody any) (*T, error) {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("new %s %s: %w", method, url, err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 2000 {
			msg = msg[:2000] + "...(truncated)"
		}
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return nil, &HTTPError{
			Method:     method,
			URL:        url,
			StatusCode: res.StatusCode,
			Message:    msg,
		}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		var zero T
		return &zero, nil
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		snip := strings.TrimSpace(string(raw))
		if len(snip) > 300 {
			snip = snip[:300] + "...(truncated)"
		}
		return nil, fmt.Errorf("unmarshal JSON: %w (body: %q)", err, snip)
	}

	return &out, nil
}

// HTTPError is a non 2xx reply. Message is the server's "error" field
// when present, the raw body otherwise.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
}

func (e *HTTPError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// SwapStatusError is a swap the server reports as failed.
type SwapStatusError struct {
	Status string
	Reason string
}

func (e *SwapStatusError) Error() string {
	return fmt.Sprintf("swap %s: %s", e.Status, e.Reason)
}

type SwapTransactionError struct {
	Reason string
}

func (e *SwapTransactionError) Error() string {
	return fmt.Sprintf("swap transaction unavailable: %s", e.Reason)
}
