//go:generate go run ../../tools/gen-env-doc/main.go
package config

import "fmt"

type EnvVar struct {
	Name        string // short name under the BOLTZ_ prefix (e.g., "NETWORK")
	FullName    string // e.g., "BOLTZ_NETWORK"
	Type        string // human-readable type
	Default     string // default value as a string ("" if none)
	Description string // one-liner for docs
	Notes       string // optional: constraints, examples, etc.
}

func EnvSpecs() []EnvVar {
	const P = envPrefix + "_"

	return []EnvVar{
		{
			Name:        Network,
			FullName:    P + Network,
			Type:        "string",
			Default:     DefaultNetwork,
			Description: "Network: main | testnet | regtest",
			Notes:       "Selects the default endpoints of every service below.",
		},
		{
			Name:        Pair,
			FullName:    P + Pair,
			Type:        "string",
			Default:     DefaultPair,
			Description: "Default swap pair: BTC/BTC | L-BTC/BTC",
			Notes:       "CLI commands accept --pair to override it.",
		},
		{
			Name:        ApiURL,
			FullName:    P + ApiURL,
			Type:        "string (URL)",
			Default:     "",
			Description: "Boltz HTTP endpoint (e.g., https://api.boltz.exchange)",
		},
		{
			Name:        WsURL,
			FullName:    P + WsURL,
			Type:        "string (WS URL)",
			Default:     "",
			Description: "Boltz WebSocket endpoint",
			Notes:       "Derived from API_URL as <api>/v2/ws when unset.",
		},
		// --- Chain data ---
		{
			Name:        MempoolURL,
			FullName:    P + MempoolURL,
			Type:        "string (URL)",
			Default:     "",
			Description: "Esplora/mempool API for BTC (e.g., https://mempool.space/api)",
		},
		{
			Name:        MempoolWsURL,
			FullName:    P + MempoolWsURL,
			Type:        "string (WS URL)",
			Default:     "",
			Description: "mempool WebSocket for BTC",
		},
		{
			Name:        MempoolLiquidURL,
			FullName:    P + MempoolLiquidURL,
			Type:        "string (URL)",
			Default:     "",
			Description: "Esplora/mempool API for Liquid (e.g., https://liquid.network/api)",
		},
		{
			Name:        MempoolLiquidWsURL,
			FullName:    P + MempoolLiquidWsURL,
			Type:        "string (WS URL)",
			Default:     "",
			Description: "mempool WebSocket for Liquid",
		},
		{
			Name:        ElectrumURL,
			FullName:    P + ElectrumURL,
			Type:        "string (host:port)",
			Default:     "",
			Description: "Electrum server used instead of the esplora API",
		},
		// --- Swaps ---
		{
			Name:        ReferralId,
			FullName:    P + ReferralId,
			Type:        "string",
			Default:     DefaultReferralId,
			Description: "Referral id sent with every swap",
		},
		{
			Name:        FeeRate,
			FullName:    P + FeeRate,
			Type:        "float64 (sat/vbyte)",
			Default:     fmt.Sprintf("%d", DefaultFeeRate),
			Description: "Fee rate override for claims and refunds",
			Notes:       "0 uses the backend estimate.",
		},
		{
			Name:        PollInterval,
			FullName:    P + PollInterval,
			Type:        "uint32 (seconds)",
			Default:     fmt.Sprintf("%d", DefaultPollInterval),
			Description: "Chain and swap status poll interval",
		},
		{
			Name:        UseWebsocket,
			FullName:    P + UseWebsocket,
			Type:        "bool",
			Default:     fmt.Sprintf("%v", DefaultUseWebsocket),
			Description: "Stream swap and chain updates over websockets instead of polling",
		},
		{
			Name:        BroadcastWithBoltz,
			FullName:    P + BroadcastWithBoltz,
			Type:        "bool",
			Default:     fmt.Sprintf("%v", DefaultBroadcastWithBoltz),
			Description: "Broadcast claims and refunds through Boltz",
		},
		{
			Name:        LogLevel,
			FullName:    P + LogLevel,
			Type:        "uint32 (0–6)",
			Default:     fmt.Sprintf("%d", DefaultLogLevel),
			Description: "Log verbosity (higher = more verbose)",
		},
	}
}
