package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/ArkLabsHQ/boltz-swap/pkg/onchain"
	"github.com/ArkLabsHQ/boltz-swap/utils"
	"github.com/spf13/viper"
)

const envPrefix = "BOLTZ"

// Keys under the BOLTZ_ prefix.
const (
	Network            = "NETWORK"
	Pair               = "PAIR"
	ApiURL             = "API_URL"
	WsURL              = "WS_URL"
	MempoolURL         = "MEMPOOL_URL"
	MempoolWsURL       = "MEMPOOL_WS_URL"
	MempoolLiquidURL   = "MEMPOOL_LIQUID_URL"
	MempoolLiquidWsURL = "MEMPOOL_LIQUID_WS_URL"
	ElectrumURL        = "ELECTRUM_URL"
	ReferralId         = "REFERRAL_ID"
	FeeRate            = "FEE_RATE"
	PollInterval       = "POLL_INTERVAL"
	UseWebsocket       = "USE_WEBSOCKET"
	BroadcastWithBoltz = "BROADCAST_WITH_BOLTZ"
	LogLevel           = "LOG_LEVEL"
)

const (
	DefaultNetwork            = "main"
	DefaultPair               = string(onchain.PairBTC)
	DefaultReferralId         = "dni"
	DefaultFeeRate            = 0
	DefaultPollInterval       = 3
	DefaultUseWebsocket       = false
	DefaultBroadcastWithBoltz = false
	DefaultLogLevel           = 4
)

type Config struct {
	Network            string  `mapstructure:"NETWORK" envDefault:"main" envInfo:"Network: main | testnet | regtest"`
	Pair               string  `mapstructure:"PAIR" envDefault:"BTC/BTC" envInfo:"Default swap pair: BTC/BTC | L-BTC/BTC"`
	ApiURL             string  `mapstructure:"API_URL" envDefault:"" envInfo:"Boltz HTTP endpoint"`
	WsURL              string  `mapstructure:"WS_URL" envDefault:"" envInfo:"Boltz WebSocket endpoint"`
	MempoolURL         string  `mapstructure:"MEMPOOL_URL" envDefault:"" envInfo:"Esplora/mempool API for BTC"`
	MempoolWsURL       string  `mapstructure:"MEMPOOL_WS_URL" envDefault:"" envInfo:"mempool WebSocket for BTC"`
	MempoolLiquidURL   string  `mapstructure:"MEMPOOL_LIQUID_URL" envDefault:"" envInfo:"Esplora/mempool API for Liquid"`
	MempoolLiquidWsURL string  `mapstructure:"MEMPOOL_LIQUID_WS_URL" envDefault:"" envInfo:"mempool WebSocket for Liquid"`
	ElectrumURL        string  `mapstructure:"ELECTRUM_URL" envDefault:"" envInfo:"Electrum server (host:port), replaces the esplora API"`
	ReferralId         string  `mapstructure:"REFERRAL_ID" envDefault:"dni" envInfo:"Referral id sent with every swap"`
	FeeRate            float64 `mapstructure:"FEE_RATE" envDefault:"0" envInfo:"Fee rate override in sat/vbyte, 0 uses the backend estimate"`
	PollInterval       uint32  `mapstructure:"POLL_INTERVAL" envDefault:"3" envInfo:"Chain and swap status poll interval in seconds"`
	UseWebsocket       bool    `mapstructure:"USE_WEBSOCKET" envDefault:"false" envInfo:"Stream swap and chain updates over websockets"`
	BroadcastWithBoltz bool    `mapstructure:"BROADCAST_WITH_BOLTZ" envDefault:"false" envInfo:"Broadcast claims and refunds through Boltz"`
	LogLevel           uint32  `mapstructure:"LOG_LEVEL" envDefault:"4" envInfo:"Log verbosity (higher = more verbose)"`

	network onchain.Network
}

type endpoints struct {
	api, mempool, mempoolWs, liquid, liquidWs string
}

var defaultEndpoints = map[onchain.Network]endpoints{
	onchain.Mainnet: {
		api:       "https://api.boltz.exchange",
		mempool:   "https://mempool.space/api",
		mempoolWs: "wss://mempool.space/api/v1/ws",
		liquid:    "https://liquid.network/api",
		liquidWs:  "wss://liquid.network/api/v1/ws",
	},
	onchain.Testnet: {
		api:       "https://api.testnet.boltz.exchange",
		mempool:   "https://mempool.space/testnet/api",
		mempoolWs: "wss://mempool.space/testnet/api/v1/ws",
		liquid:    "https://liquid.network/liquidtestnet/api",
		liquidWs:  "wss://liquid.network/liquidtestnet/api/v1/ws",
	},
	onchain.Regtest: {
		api:       "http://localhost:9001",
		mempool:   "http://localhost:8999/api/v1",
		mempoolWs: "ws://localhost:8999/api/v1/ws",
		liquid:    "http://localhost:8998/api/v1",
		liquidWs:  "ws://localhost:8998/api/v1/ws",
	},
}

func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := setDefaultConfig(v); err != nil {
		return nil, fmt.Errorf("error setting default config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %v", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	network, err := onchain.ParseNetwork(c.Network)
	if err != nil {
		return err
	}
	c.network = network

	if _, err := onchain.ParsePair(c.Pair); err != nil {
		return err
	}

	defaults := defaultEndpoints[network]
	urls := []struct {
		name    string
		value   *string
		def     string
		schemes []string
	}{
		{ApiURL, &c.ApiURL, defaults.api, nil},
		{MempoolURL, &c.MempoolURL, defaults.mempool, nil},
		{MempoolLiquidURL, &c.MempoolLiquidURL, defaults.liquid, nil},
		{MempoolWsURL, &c.MempoolWsURL, defaults.mempoolWs, []string{"ws", "wss"}},
		{MempoolLiquidWsURL, &c.MempoolLiquidWsURL, defaults.liquidWs, []string{"ws", "wss"}},
	}
	for _, u := range urls {
		if *u.value == "" {
			*u.value = u.def
			continue
		}
		normalized, err := utils.ValidateURL(*u.value, u.schemes...)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", u.name, err)
		}
		*u.value = normalized
	}
	if c.WsURL != "" {
		if _, err := utils.ValidateURL(c.WsURL, "ws", "wss"); err != nil {
			return fmt.Errorf("invalid %s: %w", WsURL, err)
		}
	}

	if c.FeeRate < 0 {
		return fmt.Errorf("invalid %s: must not be negative", FeeRate)
	}
	if c.PollInterval == 0 {
		return fmt.Errorf("invalid %s: must be at least 1 second", PollInterval)
	}
	return nil
}

// Chain returns the chain parameters of pair on the configured network.
// An empty pair selects the configured default pair.
func (c *Config) Chain(pair string) (*onchain.Chain, error) {
	if pair == "" {
		pair = c.Pair
	}
	p, err := onchain.ParsePair(pair)
	if err != nil {
		return nil, err
	}
	return onchain.NewChain(p, c.network)
}

// ExplorerURLs returns the esplora and mempool websocket endpoints serving
// chain.
func (c *Config) ExplorerURLs(chain *onchain.Chain) (string, string) {
	if chain.Kind == onchain.Confidential {
		return c.MempoolLiquidURL, c.MempoolLiquidWsURL
	}
	return c.MempoolURL, c.MempoolWsURL
}

func (c *Config) PollDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

func setDefaultConfig(v *viper.Viper) error {
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		key := f.Tag.Get("mapstructure")
		def := f.Tag.Get("envDefault")
		if def != "" {
			v.SetDefault(key, def)
		}
		err := v.BindEnv(key)
		if err != nil {
			return fmt.Errorf("error binding env variable for key %s: %w", key, err)
		}
	}
	return nil
}
