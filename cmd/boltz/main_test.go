package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"net"
	"testing"
	"time"

	"github.com/ArkLabsHQ/boltz-swap/internal/config"
	"github.com/ArkLabsHQ/boltz-swap/internal/test/mockboltz"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// newElectrumServer answers fee estimates and reports on closed when the
// client hangs up.
func newElectrumServer(t *testing.T) (string, <-chan struct{}) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	closed := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer close(closed)

		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				return
			}
			var req struct {
				ID uint64 `json:"id"`
			}
			if err := json.Unmarshal(line, &req); err != nil {
				return
			}
			resp, _ := json.Marshal(map[string]any{"id": req.ID, "result": 0.00002})
			if _, err := conn.Write(append(resp, '\n')); err != nil {
				return
			}
		}
	}()

	return ln.Addr().String(), closed
}

func TestNewClientClosesBackend(t *testing.T) {
	chain := mockboltz.NewChain(&chaincfg.RegressionNetParams)
	require.NoError(t, chain.Start("127.0.0.1:0"))
	t.Cleanup(func() { _ = chain.Stop() })

	server, err := mockboltz.New(mockboltz.Config{Chain: chain})
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })

	electrumURL, closed := newElectrumServer(t)

	t.Setenv("BOLTZ_NETWORK", "regtest")
	t.Setenv("BOLTZ_API_URL", server.String())
	t.Setenv("BOLTZ_ELECTRUM_URL", electrumURL)
	cfg, err = config.LoadConfig()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c := cli.NewContext(cli.NewApp(), flag.NewFlagSet("test", flag.ContinueOnError), nil)
	c.Context = ctx

	client, closeClient, err := newClient(c)
	require.NoError(t, err)

	rate, err := client.GetFeeRate(ctx)
	require.NoError(t, err)
	require.InDelta(t, 2.0, rate, 1e-9)

	closeClient()
	select {
	case <-closed:
	case <-ctx.Done():
		t.Fatal("electrum connection left open")
	}
}
