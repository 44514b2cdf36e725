package swap

import (
	"context"
	"fmt"
	"time"

	"github.com/ArkLabsHQ/boltz-swap/pkg/boltz"
	"github.com/ArkLabsHQ/boltz-swap/pkg/explorer"
	"github.com/ArkLabsHQ/boltz-swap/pkg/onchain"
	log "github.com/sirupsen/logrus"
)

const defaultReconnectInterval = 5 * time.Second

type Config struct {
	Chain      *onchain.Chain
	ReferralId string
	// FeeRate overrides the backend estimate when positive, in sat/vbyte.
	FeeRate      float64
	PollInterval time.Duration
	// UseWebsocket streams swap updates from the server instead of polling
	// /swapstatus.
	UseWebsocket      bool
	ReconnectInterval time.Duration
	// BroadcastWithBoltz publishes spends through /broadcasttransaction.
	BroadcastWithBoltz bool
	OnStateChange      StateObserver
}

// ClientContext is everything a swap operation needs to know about the
// session. It is fetched once and only replaced through RefreshPairs.
type ClientContext struct {
	Chain        *onchain.Chain
	PairId       string
	Pair         boltz.Pair
	ReferralId   string
	FeeRate      float64
	PollInterval time.Duration
}

type Client struct {
	cc  ClientContext
	cfg Config

	boltzSvc *boltz.Api
	watcher  *explorer.Watcher
}

// NewClient fetches the pair limits and fees and binds the client to them.
func NewClient(
	ctx context.Context, cfg Config, boltzSvc *boltz.Api, watcher *explorer.Watcher,
) (*Client, error) {
	if cfg.Chain == nil {
		return nil, fmt.Errorf("%w: missing chain", ErrInvalidInput)
	}
	if boltzSvc == nil || watcher == nil {
		return nil, fmt.Errorf("%w: missing boltz or chain data service", ErrInvalidInput)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = explorer.DefaultPollInterval
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}

	c := &Client{cfg: cfg, boltzSvc: boltzSvc, watcher: watcher}
	cc, err := c.fetchContext(ctx)
	if err != nil {
		return nil, err
	}
	c.cc = cc
	return c, nil
}

func (c *Client) Context() ClientContext {
	return c.cc
}

// RefreshPairs returns a client bound to freshly fetched pair limits and
// fees. The receiver is left untouched.
func (c *Client) RefreshPairs(ctx context.Context) (*Client, error) {
	cc, err := c.fetchContext(ctx)
	if err != nil {
		return nil, err
	}
	next := *c
	next.cc = cc
	return &next, nil
}

func (c *Client) fetchContext(ctx context.Context) (ClientContext, error) {
	pairId := string(c.cfg.Chain.Pair)
	pair, err := c.boltzSvc.GetPair(ctx, pairId)
	if err != nil {
		return ClientContext{}, fmt.Errorf("failed to fetch pair %s: %w", pairId, err)
	}
	log.Debugf(
		"pair %s: limits %d-%d, fees %.2f%%/%.2f%%",
		pairId, pair.Limits.Minimal, pair.Limits.Maximal, pair.Fees.Percentage, pair.Fees.PercentageSwapIn,
	)

	return ClientContext{
		Chain:        c.cfg.Chain,
		PairId:       pairId,
		Pair:         *pair,
		ReferralId:   c.cfg.ReferralId,
		FeeRate:      c.cfg.FeeRate,
		PollInterval: c.cfg.PollInterval,
	}, nil
}

func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := c.boltzSvc.Version(ctx)
	if err != nil {
		return "", err
	}
	return resp.Version, nil
}

func (c *Client) GetPairs(ctx context.Context) (*boltz.GetPairsResponse, error) {
	return c.boltzSvc.GetPairs(ctx)
}

func (c *Client) SwapStatus(ctx context.Context, swapId string) (*boltz.SwapStatusResponse, error) {
	return c.boltzSvc.SwapStatus(ctx, swapId)
}

// GetFeeRate returns the configured override or the backend estimate.
func (c *Client) GetFeeRate(ctx context.Context) (float64, error) {
	return c.watcher.GetFeeRate(ctx, c.cc.FeeRate)
}

func (c *Client) GetBlockHeight(ctx context.Context) (uint32, error) {
	return c.watcher.GetBlockHeight(ctx)
}

func (c *Client) broadcast(ctx context.Context, spend *onchain.SpendTx) (string, error) {
	var (
		txid string
		err  error
	)
	if c.cfg.BroadcastWithBoltz {
		txid, err = c.boltzSvc.BroadcastTransaction(ctx, boltz.Currency(c.cc.Chain.Pair.Currency()), spend.Hex)
	} else {
		txid, err = c.watcher.Broadcast(ctx, spend.Hex)
	}
	if err != nil {
		return "", err
	}
	if txid != spend.Txid {
		log.Warnf("backend reported txid %s for spend %s", txid, spend.Txid)
	}
	return spend.Txid, nil
}
