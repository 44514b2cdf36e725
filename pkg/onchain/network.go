package onchain

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/vulpemventures/go-elements/network"
)

const (
	PairBTC    Pair = "BTC/BTC"
	PairLiquid Pair = "L-BTC/BTC"
)

// Pair is the Boltz pair identifier a swap is created for.
type Pair string

func ParsePair(s string) (Pair, error) {
	switch Pair(strings.ToUpper(s)) {
	case PairBTC:
		return PairBTC, nil
	case PairLiquid:
		return PairLiquid, nil
	default:
		return "", fmt.Errorf("%w: unsupported pair %q", ErrInvalidInput, s)
	}
}

// Currency returns the on-chain currency ticker of the pair.
func (p Pair) Currency() string {
	if p == PairLiquid {
		return "L-BTC"
	}
	return "BTC"
}

const (
	Mainnet Network = "main"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
)

type Network string

func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(s) {
	case "main", "mainnet", "bitcoin", "liquid":
		return Mainnet, nil
	case "test", "testnet":
		return Testnet, nil
	case "regtest":
		return Regtest, nil
	default:
		return "", fmt.Errorf("%w: unsupported network %q", ErrInvalidInput, s)
	}
}

const (
	Plain ChainKind = iota
	Confidential
)

// ChainKind tells the builder whether outputs are plain or blinded.
type ChainKind int

func (k ChainKind) String() string {
	if k == Confidential {
		return "confidential"
	}
	return "plain"
}

// Chain bundles the parameters needed to encode keys and addresses and to
// build spends for one pair on one network. Only the field matching Kind is
// set. Chains are read-only once created and may be shared between swaps.
type Chain struct {
	Pair    Pair
	Network Network
	Kind    ChainKind

	Params *chaincfg.Params
	Liquid *network.Network
}

func NewChain(pair Pair, net Network) (*Chain, error) {
	chain := &Chain{Pair: pair, Network: net}

	switch pair {
	case PairBTC:
		chain.Kind = Plain
		switch net {
		case Mainnet:
			chain.Params = &chaincfg.MainNetParams
		case Testnet:
			chain.Params = &chaincfg.TestNet3Params
		case Regtest:
			chain.Params = &chaincfg.RegressionNetParams
		default:
			return nil, fmt.Errorf("%w: unsupported network %q", ErrInvalidInput, net)
		}
	case PairLiquid:
		chain.Kind = Confidential
		switch net {
		case Mainnet:
			chain.Liquid = &network.Liquid
		case Testnet:
			chain.Liquid = &network.Testnet
		case Regtest:
			chain.Liquid = &network.Regtest
		default:
			return nil, fmt.Errorf("%w: unsupported network %q", ErrInvalidInput, net)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported pair %q", ErrInvalidInput, pair)
	}

	return chain, nil
}

// Name is the human readable network name used in error messages.
func (c *Chain) Name() string {
	if c.Kind == Confidential {
		return c.Liquid.Name
	}
	return c.Params.Name
}

// AssetID is the native asset of a confidential chain, empty otherwise.
func (c *Chain) AssetID() string {
	if c.Kind == Confidential {
		return c.Liquid.AssetID
	}
	return ""
}

// wifParams returns params carrying only the WIF version byte, enough for
// btcutil's WIF encoding and network check on either chain kind.
func (c *Chain) wifParams() *chaincfg.Params {
	if c.Kind == Confidential {
		return &chaincfg.Params{Name: c.Liquid.Name, PrivateKeyID: c.Liquid.Wif}
	}
	return c.Params
}

func (c *Chain) String() string {
	return fmt.Sprintf("%s@%s", c.Pair, c.Name())
}

// Amount formats sats the way the CLI prints them.
func Amount(sats uint64) string {
	return btcutil.Amount(int64(sats)).String()
}
