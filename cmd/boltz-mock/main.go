package main

import (
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ArkLabsHQ/boltz-swap/internal/test/mockboltz"
	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/go-elements/network"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	level, err := log.ParseLevel(envOrDefault("MOCK_BOLTZ_LOG_LEVEL", "info"))
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	chain := mockboltz.NewChain(parseNetwork(envOrDefault("MOCK_BOLTZ_NETWORK", "regtest")))
	if err := chain.Start(envOrDefault("MOCK_BOLTZ_ESPLORA_LISTEN_ADDR", ":3000")); err != nil {
		log.WithError(err).Fatal("failed to start mock esplora")
	}
	log.Infof("mock esplora started on %s", chain.URL())

	liquid := mockboltz.NewLiquidChain(parseLiquidNetwork(envOrDefault("MOCK_BOLTZ_NETWORK", "regtest")))
	if err := liquid.Start(envOrDefault("MOCK_BOLTZ_LIQUID_ESPLORA_LISTEN_ADDR", ":3001")); err != nil {
		log.WithError(err).Fatal("failed to start mock liquid esplora")
	}
	log.Infof("mock liquid esplora started on %s", liquid.URL())

	srv, err := mockboltz.New(mockboltz.Config{
		ListenAddr:    envOrDefault("MOCK_BOLTZ_LISTEN_ADDR", ":9001"),
		Chain:         chain,
		Liquid:        liquid,
		TimeoutBlocks: parseUint32("MOCK_BOLTZ_TIMEOUT_BLOCKS", 144),
		ReverseLockup: mockboltz.LockupMode(envOrDefault("MOCK_BOLTZ_REVERSE_LOCKUP", string(mockboltz.LockupConfirmed))),
		LockupDelay:   parseDuration("MOCK_BOLTZ_LOCKUP_DELAY", 50*time.Millisecond),
	})
	if err != nil {
		log.WithError(err).Fatal("failed to create mock boltz server")
	}

	if err := srv.Start(); err != nil {
		log.WithError(err).Fatal("failed to start mock boltz server")
	}
	log.Infof("mock boltz started on %s", srv)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	if err := srv.Stop(); err != nil {
		log.WithError(err).Error("failed to stop mock boltz server")
	}
	if err := chain.Stop(); err != nil {
		log.WithError(err).Error("failed to stop mock esplora")
	}
	if err := liquid.Stop(); err != nil {
		log.WithError(err).Error("failed to stop mock liquid esplora")
	}
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func parseUint32(key string, fallback uint32) uint32 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return fallback
	}
	return uint32(n)
}

func parseNetwork(network string) *chaincfg.Params {
	switch strings.ToLower(strings.TrimSpace(network)) {
	case "mainnet", "bitcoin":
		return &chaincfg.MainNetParams
	case "testnet":
		return &chaincfg.TestNet3Params
	default:
		return &chaincfg.RegressionNetParams
	}
}

func parseLiquidNetwork(net string) *network.Network {
	switch strings.ToLower(strings.TrimSpace(net)) {
	case "mainnet", "bitcoin", "liquid":
		return &network.Liquid
	case "testnet":
		return &network.Testnet
	default:
		return &network.Regtest
	}
}
