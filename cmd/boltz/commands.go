package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	scheduler "github.com/ArkLabsHQ/boltz-swap/internal/infrastructure/scheduler/gocron"
	"github.com/ArkLabsHQ/boltz-swap/pkg/onchain"
	"github.com/ArkLabsHQ/boltz-swap/pkg/swap"
	"github.com/ccoveille/go-safecast"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const (
	directionSend    = "send"
	directionReceive = "receive"
)

var (
	idFlag = &cli.StringFlag{
		Name:  "id",
		Usage: "boltz swap id",
	}
	privateKeyFlag = &cli.StringFlag{
		Name:     "private-key",
		Usage:    "swap private key in WIF",
		Required: true,
	}
	lockupAddressFlag = &cli.StringFlag{
		Name:     "lockup-address",
		Usage:    "address the swap is locked up to",
		Required: true,
	}
	receiveAddressFlag = &cli.StringFlag{
		Name:     "receive-address",
		Usage:    "your on-chain address",
		Required: true,
	}
	redeemScriptFlag = &cli.StringFlag{
		Name:     "redeem-script",
		Usage:    "hex encoded swap redeem script",
		Required: true,
	}
	blindingKeyFlag = &cli.StringFlag{
		Name:  "blinding-key",
		Usage: "hex encoded lockup blinding key, Liquid only",
	}
	amountFlag = &cli.Uint64Flag{
		Name:     "amount",
		Aliases:  []string{"a"},
		Usage:    "amount in sats",
		Required: true,
	}
	directionFlag = &cli.StringFlag{
		Name:  "direction",
		Usage: "send: amount is the invoice amount, receive: amount is what you get on-chain",
		Value: directionSend,
	}
	zeroConfFlag = &cli.BoolFlag{
		Name:  "zero-conf",
		Usage: "claim without waiting for the lockup to confirm",
		Value: true,
	}
)

var createSwapCommand = &cli.Command{
	Name:      "create-swap",
	Usage:     "create a swap, boltz pays your invoice once you fund the lockup address",
	ArgsUsage: "<invoice>",
	Action:    createSwapAction,
}

var refundSwapCommand = &cli.Command{
	Name:  "refund-swap",
	Usage: "refund a swap once its timeout block height is reached",
	Flags: []cli.Flag{
		idFlag, privateKeyFlag, lockupAddressFlag, receiveAddressFlag, redeemScriptFlag, blindingKeyFlag,
		&cli.UintFlag{
			Name:  "timeout-block-height",
			Usage: "swap timeout, read from the redeem script when omitted",
		},
		&cli.BoolFlag{
			Name:  "wait",
			Usage: "wait for the timeout block height instead of failing",
		},
	},
	Action: refundSwapAction,
}

var createReverseSwapCommand = &cli.Command{
	Name:   "create-reverse-swap",
	Usage:  "create a reverse swap",
	Flags:  []cli.Flag{amountFlag, directionFlag},
	Action: createReverseSwapAction,
}

var createReverseSwapAndClaimCommand = &cli.Command{
	Name:   "create-reverse-swap-and-claim",
	Usage:  "create a reverse swap and claim it once boltz locks up",
	Flags:  []cli.Flag{amountFlag, directionFlag, receiveAddressFlag, zeroConfFlag},
	Action: createReverseSwapAndClaimAction,
}

var claimReverseSwapCommand = &cli.Command{
	Name:  "claim-reverse-swap",
	Usage: "claim a reverse swap",
	Flags: []cli.Flag{
		idFlag, privateKeyFlag, lockupAddressFlag, receiveAddressFlag, redeemScriptFlag, blindingKeyFlag,
		zeroConfFlag,
		&cli.StringFlag{
			Name:     "preimage",
			Usage:    "hex encoded preimage",
			Required: true,
		},
	},
	Action: claimReverseSwapAction,
}

var swapStatusCommand = &cli.Command{
	Name:      "swap-status",
	Usage:     "get the status of a swap from boltz",
	ArgsUsage: "<id>",
	Action:    swapStatusAction,
}

var showPairsCommand = &cli.Command{
	Name:   "show-pairs",
	Usage:  "show the pairs boltz supports with their limits and fees",
	Action: showPairsAction,
}

var getFeesCommand = &cli.Command{
	Name:   "get-fees",
	Usage:  "show the current fee rate and claim/refund miner fees",
	Action: getFeesAction,
}

var calculateSwapSendAmountCommand = &cli.Command{
	Name:   "calculate-swap-send-amount",
	Usage:  "invoice amount a swap funded with the given on-chain amount can pay",
	Flags:  []cli.Flag{amountFlag},
	Action: calculateSwapSendAmountAction,
}

func createSwapAction(c *cli.Context) error {
	invoice := c.Args().First()
	if invoice == "" {
		return fmt.Errorf("missing invoice")
	}

	client, closeClient, err := newClient(c)
	if err != nil {
		return err
	}
	defer closeClient()

	keys, resp, err := client.CreateSwap(c.Context, invoice)
	if err != nil {
		return err
	}

	fmt.Printf("boltz_id: %s\n\n", resp.Id)
	fmt.Printf("refund privkey in wif: %s\n", keys.PrivateKey)
	fmt.Printf("redeem_script_hex: %s\n\n", resp.RedeemScript)
	fmt.Printf("onchain address: %s\n", resp.Address)
	fmt.Printf("expected amount: %d\n", resp.ExpectedAmount)
	fmt.Printf("bip21 address: %s\n", resp.Bip21)
	fmt.Printf("timeout block height: %d\n", resp.TimeoutBlockHeight)
	if resp.BlindingKey != "" {
		fmt.Printf("blinding key: %s\n", resp.BlindingKey)
	}
	printQRCode(resp.Bip21)

	fmt.Println("run this command if you need to refund, with your own receive address:")
	fmt.Printf(
		"boltz --pair %s refund-swap --id %s --private-key %s --lockup-address %s "+
			"--redeem-script %s --receive-address YOUR_RECEIVE_ADDRESS%s\n",
		client.Context().PairId, resp.Id, keys.PrivateKey, resp.Address, resp.RedeemScript,
		blindingKeyArg(resp.BlindingKey),
	)
	return nil
}

func refundSwapAction(c *cli.Context) error {
	client, closeClient, err := newClient(c)
	if err != nil {
		return err
	}
	defer closeClient()

	timeout, err := safecast.ToUint32(c.Uint("timeout-block-height"))
	if err != nil {
		return fmt.Errorf("invalid timeout block height: %w", err)
	}

	req := swap.RefundRequest{
		SwapId:             c.String(idFlag.Name),
		LockupAddress:      c.String(lockupAddressFlag.Name),
		RedeemScript:       c.String(redeemScriptFlag.Name),
		TimeoutBlockHeight: timeout,
		ReceiveAddress:     c.String(receiveAddressFlag.Name),
		PrivateKey:         c.String(privateKeyFlag.Name),
		BlindingKey:        c.String(blindingKeyFlag.Name),
	}

	var txid string
	if c.Bool("wait") {
		txid, err = refundAtTimeout(c.Context, client, req)
	} else {
		txid, err = client.RefundSwap(c.Context, req)
	}
	if err != nil {
		return err
	}

	fmt.Println("swap refunded!")
	fmt.Printf("TXID: %s\n", txid)
	return nil
}

// refundAtTimeout schedules the refund for the block the swap times out at.
func refundAtTimeout(ctx context.Context, client *swap.Client, req swap.RefundRequest) (string, error) {
	timeout := req.TimeoutBlockHeight
	if timeout == 0 {
		redeemScript, err := hex.DecodeString(req.RedeemScript)
		if err != nil {
			return "", fmt.Errorf("invalid redeem script: %w", err)
		}
		script, err := onchain.ParseSwapScript(redeemScript)
		if err != nil {
			return "", err
		}
		timeout = script.TimeoutBlockHeight
	}

	type result struct {
		txid string
		err  error
	}
	done := make(chan result, 1)

	svc := scheduler.NewScheduler(client.GetBlockHeight, client.Context().PollInterval)
	svc.Start()
	defer svc.Stop()

	id := req.SwapId
	if id == "" {
		id = req.LockupAddress
	}
	if err := svc.ScheduleAtHeight(id, timeout, func() {
		txid, err := client.RefundSwap(ctx, req)
		done <- result{txid, err}
	}); err != nil {
		return "", err
	}
	log.Infof("waiting for block height %d to refund", timeout)

	select {
	case res := <-done:
		return res.txid, res.err
	case <-ctx.Done():
		svc.Cancel(id)
		return "", ctx.Err()
	}
}

func reverseAmount(c *cli.Context, client *swap.Client) (uint64, error) {
	amount := c.Uint64(amountFlag.Name)
	switch c.String(directionFlag.Name) {
	case directionSend:
		return amount, nil
	case directionReceive:
		return swap.AmountWithReverseFees(client.Context().Pair, amount), nil
	default:
		return 0, fmt.Errorf("direction must be '%s' or '%s'", directionSend, directionReceive)
	}
}

func printReverseSwap(s *swap.ReverseSwap) {
	fmt.Println("reverse swap created!")
	fmt.Println()
	fmt.Printf("claim privkey in wif: %s\n", s.KeyPair.PrivateKey)
	fmt.Printf("preimage hex: %s\n", s.Preimage.Preimage)
	fmt.Printf("lockup_address: %s\n", s.LockupAddress)
	fmt.Printf("redeem_script_hex: %s\n", s.RedeemScript)
	if s.BlindingKey != "" {
		fmt.Printf("blinding key: %s\n", s.BlindingKey)
	}
	fmt.Printf("onchain amount: %d\n\n", s.OnchainAmount)
	fmt.Printf("boltz_id: %s\n\n", s.Id)
	fmt.Println("invoice:")
	fmt.Println(s.Invoice)
	printQRCode("lightning:" + s.Invoice)
}

func createReverseSwapAction(c *cli.Context) error {
	client, closeClient, err := newClient(c)
	if err != nil {
		return err
	}
	defer closeClient()
	amount, err := reverseAmount(c, client)
	if err != nil {
		return err
	}

	s, err := client.CreateReverseSwap(c.Context, amount)
	if err != nil {
		return err
	}
	printReverseSwap(s)

	fmt.Println("run this command after you see the lockup transaction, with your own receive address:")
	fmt.Printf(
		"boltz --pair %s claim-reverse-swap --id %s --lockup-address %s --private-key %s "+
			"--preimage %s --redeem-script %s --receive-address YOUR_RECEIVE_ADDRESS%s\n",
		client.Context().PairId, s.Id, s.LockupAddress, s.KeyPair.PrivateKey,
		s.Preimage.Preimage, s.RedeemScript, blindingKeyArg(s.BlindingKey),
	)
	return nil
}

// terminalPayer leaves the payment to the user: the invoice is printed and
// the claim goes on waiting for the lockup.
type terminalPayer struct{}

func (terminalPayer) PayInvoice(_ context.Context, invoice string) error {
	fmt.Println("pay this invoice:")
	fmt.Println(invoice)
	printQRCode("lightning:" + invoice)
	return nil
}

func createReverseSwapAndClaimAction(c *cli.Context) error {
	client, closeClient, err := newClient(c)
	if err != nil {
		return err
	}
	defer closeClient()
	amount, err := reverseAmount(c, client)
	if err != nil {
		return err
	}

	zeroConf := c.Bool(zeroConfFlag.Name)
	fmt.Println("1. waiting until you paid the invoice...")
	fmt.Println("2. waiting for boltz to create the lockup transaction...")
	if !zeroConf {
		fmt.Println("3. waiting for lockup tx confirmation...")
	}

	s, txid, err := client.CreateReverseSwapAndClaim(
		c.Context, amount, c.String(receiveAddressFlag.Name), zeroConf, terminalPayer{},
	)
	if err != nil {
		if s != nil {
			printReverseSwap(s)
		}
		return err
	}

	fmt.Printf("reverse swap %s claimed!\n", s.Id)
	fmt.Printf("TXID: %s\n", txid)
	return nil
}

func claimReverseSwapAction(c *cli.Context) error {
	client, closeClient, err := newClient(c)
	if err != nil {
		return err
	}
	defer closeClient()

	txid, err := client.ClaimReverseSwap(c.Context, swap.ClaimRequest{
		SwapId:         c.String(idFlag.Name),
		LockupAddress:  c.String(lockupAddressFlag.Name),
		RedeemScript:   c.String(redeemScriptFlag.Name),
		Preimage:       c.String("preimage"),
		PrivateKey:     c.String(privateKeyFlag.Name),
		ReceiveAddress: c.String(receiveAddressFlag.Name),
		ZeroConf:       c.Bool(zeroConfFlag.Name),
		BlindingKey:    c.String(blindingKeyFlag.Name),
	})
	if err != nil {
		return err
	}

	fmt.Println("reverse swap claimed!")
	fmt.Printf("TXID: %s\n", txid)
	return nil
}

func swapStatusAction(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("missing swap id")
	}

	client, closeClient, err := newClient(c)
	if err != nil {
		return err
	}
	defer closeClient()
	status, err := client.SwapStatus(c.Context, id)
	if status == nil {
		return err
	}
	if err != nil {
		log.Warn(err)
	}
	return printJSON(status)
}

func showPairsAction(c *cli.Context) error {
	client, closeClient, err := newClient(c)
	if err != nil {
		return err
	}
	defer closeClient()
	pairs, err := client.GetPairs(c.Context)
	if err != nil {
		return err
	}
	return printJSON(pairs)
}

func getFeesAction(c *cli.Context) error {
	client, closeClient, err := newClient(c)
	if err != nil {
		return err
	}
	defer closeClient()

	rate, err := client.GetFeeRate(c.Context)
	if err != nil {
		return err
	}
	fees := client.Context().Pair.Fees
	return printJSON(map[string]any{
		"pair":              client.Context().PairId,
		"feeRate":           rate,
		"percentage":        fees.Percentage,
		"percentageSwapIn":  fees.PercentageSwapIn,
		"minerFees":         fees.MinerFees.BaseAsset,
		"legacyFallbackFee": onchain.LegacyFee(rate),
	})
}

func calculateSwapSendAmountAction(c *cli.Context) error {
	client, closeClient, err := newClient(c)
	if err != nil {
		return err
	}
	defer closeClient()
	fmt.Println(swap.AmountAfterSwapFees(client.Context().Pair, c.Uint64(amountFlag.Name)))
	return nil
}

func blindingKeyArg(key string) string {
	if key == "" {
		return ""
	}
	return " --blinding-key " + key
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
