package explorer

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// ElectrumClient implements the Electrum protocol for blockchain queries
type ElectrumClient struct {
	address string
	useTLS  bool
	timeout time.Duration

	// mu serializes calls, a connection carries one request at a time.
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	reqID  uint64
}

// ElectrumRequest represents a JSON-RPC request
type ElectrumRequest struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// ElectrumResponse represents a JSON-RPC response
type ElectrumResponse struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result"`
	Error  *ElectrumError  `json:"error,omitempty"`
}

// ElectrumError represents an error in the response
type ElectrumError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ElectrumError) Error() string {
	return fmt.Sprintf("electrum error %d: %s", e.Code, e.Message)
}

// NewElectrumClient creates a new Electrum client. Ports 700 and 50002 are
// dialed over TLS.
func NewElectrumClient(address string, timeout time.Duration) *ElectrumClient {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	useTLS := false
	if _, port, err := net.SplitHostPort(address); err == nil {
		useTLS = port == "700" || port == "50002"
	}
	return &ElectrumClient{
		address: address,
		useTLS:  useTLS,
		timeout: timeout,
	}
}

// connect establishes a connection to the Electrum server, c.mu held.
func (c *ElectrumClient) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	dialer := &net.Dialer{
		Timeout: c.timeout,
	}

	var (
		conn net.Conn
		err  error
	)
	if c.useTLS {
		host, _, _ := net.SplitHostPort(c.address)
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", c.address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", c.address)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.address, err)
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// disconnect closes the connection, c.mu held.
func (c *ElectrumClient) disconnect() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
}

// call makes a JSON-RPC call to the Electrum server
func (c *ElectrumClient) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.reqID++
	reqID := c.reqID

	if params == nil {
		params = []interface{}{}
	}
	request := ElectrumRequest{
		ID:     reqID,
		Method: method,
		Params: params,
	}

	requestBytes, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// Electrum protocol expects newline-delimited JSON
	requestBytes = append(requestBytes, '\n')

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.disconnect()
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	if _, err := c.conn.Write(requestBytes); err != nil {
		c.disconnect()
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	for {
		responseBytes, err := c.reader.ReadBytes('\n')
		if err != nil {
			c.disconnect()
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		var response ElectrumResponse
		if err := json.Unmarshal(responseBytes, &response); err != nil {
			c.disconnect()
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}

		// Subscription notifications carry a method and no id.
		if response.Method != "" || response.ID != reqID {
			continue
		}

		if response.Error != nil {
			return nil, response.Error
		}
		return response.Result, nil
	}
}

// GetBlockchainHeight fetches the current blockchain height
func (c *ElectrumClient) GetBlockchainHeight(ctx context.Context) (uint32, error) {
	result, err := c.call(ctx, "blockchain.headers.subscribe")
	if err != nil {
		return 0, fmt.Errorf("blockchain.headers.subscribe failed: %w", err)
	}

	var header struct {
		Height uint32 `json:"height"`
	}

	if err := json.Unmarshal(result, &header); err != nil {
		return 0, fmt.Errorf("failed to parse header: %w", err)
	}

	return header.Height, nil
}

// Close closes the connection
func (c *ElectrumClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnect()
}
