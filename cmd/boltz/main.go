package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ArkLabsHQ/boltz-swap/internal/config"
	"github.com/ArkLabsHQ/boltz-swap/pkg/boltz"
	"github.com/ArkLabsHQ/boltz-swap/pkg/explorer"
	"github.com/ArkLabsHQ/boltz-swap/pkg/swap"
	log "github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"
	"github.com/urfave/cli/v2"
)

// nolint:all
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var cfg *config.Config

func main() {
	app := cli.NewApp()
	app.Name = "boltz"
	app.Usage = "submarine and reverse submarine swaps with Boltz"
	app.Version = fmt.Sprintf("%s (%s, %s)", version, commit, date)
	app.Flags = []cli.Flag{pairFlag}
	app.Before = func(*cli.Context) error {
		c, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		log.SetLevel(log.Level(c.LogLevel))
		cfg = c
		return nil
	}
	app.Commands = []*cli.Command{
		createSwapCommand,
		refundSwapCommand,
		createReverseSwapCommand,
		createReverseSwapAndClaimCommand,
		claimReverseSwapCommand,
		swapStatusCommand,
		showPairsCommand,
		getFeesCommand,
		calculateSwapSendAmountCommand,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

var pairFlag = &cli.StringFlag{
	Name:    "pair",
	Aliases: []string{"p"},
	Usage:   "swap pair: BTC/BTC | L-BTC/BTC, defaults to BOLTZ_PAIR",
}

// newClient wires the Boltz API and the chain data backend of the selected
// pair into a swap client. The returned func releases the backend.
func newClient(c *cli.Context) (*swap.Client, func(), error) {
	chain, err := cfg.Chain(c.String(pairFlag.Name))
	if err != nil {
		return nil, nil, err
	}

	esploraURL, wsURL := cfg.ExplorerURLs(chain)
	svc := explorer.NewService(chain, esploraURL, cfg.ElectrumURL)
	closeSvc := func() {
		if err := svc.Close(); err != nil {
			log.WithError(err).Warn("failed to close chain data service")
		}
	}

	var tracker *explorer.Tracker
	if cfg.UseWebsocket {
		tracker = explorer.NewTracker(wsURL, cfg.PollDuration())
	}
	watcher := explorer.NewWatcher(svc, tracker, cfg.PollDuration())

	api := &boltz.Api{URL: cfg.ApiURL, WSURL: cfg.WsURL}
	client, err := swap.NewClient(c.Context, swap.Config{
		Chain:              chain,
		ReferralId:         cfg.ReferralId,
		FeeRate:            cfg.FeeRate,
		PollInterval:       cfg.PollDuration(),
		UseWebsocket:       cfg.UseWebsocket,
		BroadcastWithBoltz: cfg.BroadcastWithBoltz,
		OnStateChange: func(id string, from, to swap.State) {
			fmt.Printf("%s: %s\n", id, to)
		},
	}, api, watcher)
	if err != nil {
		closeSvc()
		return nil, nil, err
	}
	return client, closeSvc, nil
}

func printQRCode(content string) {
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		log.WithError(err).Warn("failed to render qr code")
		return
	}
	fmt.Println(qr.ToSmallString(false))
}
