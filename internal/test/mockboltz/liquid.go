package mockboltz

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ArkLabsHQ/boltz-swap/pkg/onchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/go-elements/address"
	"github.com/vulpemventures/go-elements/elementsutil"
	"github.com/vulpemventures/go-elements/network"
	"github.com/vulpemventures/go-elements/payment"
	"github.com/vulpemventures/go-elements/transaction"
)

const defaultLiquidFeeRate = 0.1

type liquidTx struct {
	tx *transaction.Transaction
	// height of the block that confirmed tx, 0 while in mempool.
	height uint32
}

// LiquidChain is an in-memory esplora serving a Liquid network. Values of
// blinded outputs are not exposed. Broadcasts must spend swap outputs and
// are checked against the keys and the hash lock of their redeem script.
type LiquidChain struct {
	chain *onchain.Chain

	mu          sync.RWMutex
	height      uint32
	feeRate     float64
	lockupAsset []byte
	txs         map[chainhash.Hash]*liquidTx
	order       []chainhash.Hash
	spent       map[wire.OutPoint]chainhash.Hash

	httpServer *http.Server
	listener   net.Listener
}

func NewLiquidChain(net *network.Network) *LiquidChain {
	if net == nil {
		net = &network.Regtest
	}
	return &LiquidChain{
		chain:   &onchain.Chain{Pair: onchain.PairLiquid, Kind: onchain.Confidential, Liquid: net},
		height:  defaultChainHeight,
		feeRate: defaultLiquidFeeRate,
		txs:     make(map[chainhash.Hash]*liquidTx),
		spent:   make(map[wire.OutPoint]chainhash.Hash),
	}
}

func (c *LiquidChain) Start(listenAddr string) error {
	if listenAddr == "" {
		listenAddr = "127.0.0.1:0"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/blocks/tip/height", c.handleHeight)
	mux.HandleFunc("/v1/fees/recommended", c.handleFees)
	mux.HandleFunc("/tx", c.handleBroadcast)
	mux.HandleFunc("/tx/", c.handleTx)
	mux.HandleFunc("/address/", c.handleAddress)

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	c.listener = ln
	c.httpServer = &http.Server{Handler: mux}

	go func() {
		if err := c.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("mock liquid chain stopped unexpectedly")
		}
	}()
	return nil
}

func (c *LiquidChain) Stop() error {
	if c.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.httpServer.Shutdown(ctx)
}

func (c *LiquidChain) URL() string {
	return listenerURL(c.listener)
}

func (c *LiquidChain) Network() *network.Network {
	return c.chain.Liquid
}

// NativeAsset returns the 32 byte id of the policy asset, as found in
// unblinded outputs.
func (c *LiquidChain) NativeAsset() []byte {
	asset, _ := elementsutil.AssetHashToBytes(c.chain.Liquid.AssetID)
	return asset[1:]
}

// SetLockupAsset makes the server lock up asset instead of the native one.
func (c *LiquidChain) SetLockupAsset(asset []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lockupAsset = asset
}

func (c *LiquidChain) Height() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height
}

func (c *LiquidChain) SetFeeRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feeRate = rate
}

// Mine adds n blocks, the first one confirming every mempool transaction.
func (c *LiquidChain) Mine(n uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n == 0 {
		return
	}
	for _, txid := range c.order {
		if tx := c.txs[txid]; tx.height == 0 {
			tx.height = c.height + 1
		}
	}
	c.height += n
}

// Fund publishes a transaction paying value of asset to script out of thin
// air. A nil asset is the native one. The output is blinded to blindingKey
// when set and explicit otherwise.
func (c *LiquidChain) Fund(
	script []byte, value uint64, asset []byte, blindingKey *btcec.PublicKey, confirmed bool,
) (*transaction.Transaction, error) {
	if asset == nil {
		asset = c.NativeAsset()
	}

	var out *transaction.TxOutput
	if blindingKey != nil {
		blinded, err := onchain.BlindExplicitOutput(asset, value, script, blindingKey.SerializeCompressed())
		if err != nil {
			return nil, err
		}
		out = blinded
	} else {
		explicit, err := elementsutil.ValueToBytes(value)
		if err != nil {
			return nil, err
		}
		out = transaction.NewTxOutput(append([]byte{0x01}, asset...), explicit, script)
	}

	prev := make([]byte, 32)
	_, _ = rand.Read(prev)
	tx := transaction.NewTx(2)
	tx.AddInput(transaction.NewTxInput(prev, 0))
	tx.AddOutput(out)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &liquidTx{tx: tx}
	if confirmed {
		c.height++
		entry.height = c.height
	}
	c.add(entry)
	return tx, nil
}

// Broadcast validates tx against the swap outputs it spends and adds it to
// the mempool.
func (c *LiquidChain) Broadcast(tx *transaction.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	txid := tx.TxHash()
	if _, ok := c.txs[txid]; ok {
		return fmt.Errorf("txn-already-known")
	}
	if !c.isFinal(tx) {
		return fmt.Errorf("non-final")
	}

	outpoints := make([]wire.OutPoint, 0, len(tx.Inputs))
	for i, in := range tx.Inputs {
		outpoint := inputOutPoint(in)
		prev, ok := c.txs[outpoint.Hash]
		if !ok || int(outpoint.Index) >= len(prev.tx.Outputs) {
			return fmt.Errorf("bad-txns-inputs-missingorspent")
		}
		if _, ok := c.spent[outpoint]; ok {
			return fmt.Errorf("bad-txns-inputs-missingorspent")
		}
		if err := verifySwapSpend(tx, i, prev.tx.Outputs[outpoint.Index]); err != nil {
			return fmt.Errorf("mandatory-script-verify-flag-failed (%s)", err)
		}
		outpoints = append(outpoints, outpoint)
	}

	for _, outpoint := range outpoints {
		c.spent[outpoint] = txid
	}
	c.add(&liquidTx{tx: tx})
	return nil
}

func (c *LiquidChain) Transaction(txid string) (*transaction.Transaction, bool) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	tx, ok := c.txs[*hash]
	if !ok {
		return nil, false
	}
	return tx.tx, true
}

// Paying returns the transactions with an output paying script, oldest
// first.
func (c *LiquidChain) Paying(script []byte) []*transaction.Transaction {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var txs []*transaction.Transaction
	for _, txid := range c.order {
		tx := c.txs[txid].tx
		if paysScript(tx, script) {
			txs = append(txs, tx)
		}
	}
	return txs
}

// Spending returns the transaction spending any output of txid.
func (c *LiquidChain) Spending(txid string) (*transaction.Transaction, bool) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for outpoint, spender := range c.spent {
		if outpoint.Hash == *hash {
			return c.txs[spender].tx, true
		}
	}
	return nil, false
}

func (c *LiquidChain) add(tx *liquidTx) {
	txid := tx.tx.TxHash()
	c.txs[txid] = tx
	c.order = append(c.order, txid)
}

func (c *LiquidChain) isFinal(tx *transaction.Transaction) bool {
	if tx.Locktime == 0 || tx.Locktime >= txscript.LockTimeThreshold {
		return true
	}
	if tx.Locktime <= c.height {
		return true
	}
	for _, in := range tx.Inputs {
		if in.Sequence != wire.MaxTxInSequenceNum {
			return false
		}
	}
	return true
}

// verifySwapSpend checks input i of tx against prevOut, a swap lockup
// output. The witness is {signature, preimage, redeem script}: a preimage
// unlocks the claim key, an empty one the refund key after the timeout.
func verifySwapSpend(tx *transaction.Transaction, i int, prevOut *transaction.TxOutput) error {
	in := tx.Inputs[i]
	if len(in.Witness) != 3 {
		return fmt.Errorf("unexpected witness of %d items", len(in.Witness))
	}
	sig, preimage, redeemScript := in.Witness[0], in.Witness[1], in.Witness[2]

	p2wsh, p2shP2wsh, err := onchain.LockupScripts(redeemScript)
	if err != nil {
		return err
	}
	switch {
	case bytes.Equal(prevOut.Script, p2wsh):
		if len(in.Script) != 0 {
			return fmt.Errorf("non-empty script sig for a native segwit output")
		}
	case bytes.Equal(prevOut.Script, p2shP2wsh):
		scriptSig, err := onchain.RefundScriptSig(redeemScript)
		if err != nil {
			return err
		}
		if !bytes.Equal(in.Script, scriptSig) {
			return fmt.Errorf("script sig does not wrap the witness script")
		}
	default:
		return fmt.Errorf("witness script does not match the spent output")
	}

	script, err := onchain.ParseSwapScript(redeemScript)
	if err != nil {
		return err
	}
	key := script.RefundPubKey
	if len(preimage) > 0 {
		hash := sha256.Sum256(preimage)
		if !bytes.Equal(input.Ripemd160H(hash[:]), script.PreimageHash) {
			return fmt.Errorf("preimage does not match the hash lock")
		}
		key = script.ClaimPubKey
	} else if tx.Locktime < script.TimeoutBlockHeight {
		return fmt.Errorf("locktime %d is below the swap timeout %d", tx.Locktime, script.TimeoutBlockHeight)
	}

	if len(sig) < 2 {
		return fmt.Errorf("missing signature")
	}
	parsed, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
	if err != nil {
		return err
	}
	sigHash := tx.HashForWitnessV0(i, redeemScript, prevOut.Value, txscript.SigHashType(sig[len(sig)-1]))
	if !parsed.Verify(sigHash[:], key) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

func inputOutPoint(in *transaction.TxInput) wire.OutPoint {
	var hash chainhash.Hash
	copy(hash[:], in.Hash)
	return wire.OutPoint{Hash: hash, Index: in.Index}
}

func paysScript(tx *transaction.Transaction, script []byte) bool {
	for _, out := range tx.Outputs {
		if bytes.Equal(out.Script, script) {
			return true
		}
	}
	return false
}

func (c *LiquidChain) toEsplora(tx *liquidTx) esploraTx {
	vouts := make([]esploraVout, 0, len(tx.tx.Outputs))
	for _, out := range tx.tx.Outputs {
		vout := esploraVout{ScriptPubKey: hex.EncodeToString(out.Script)}
		if len(out.Value) == 9 && out.Value[0] == 1 {
			value, _ := elementsutil.ValueFromBytes(out.Value)
			vout.Value = int64(value)
		}
		vouts = append(vouts, vout)
	}
	return esploraTx{
		Txid:   tx.tx.TxHash().String(),
		Vout:   vouts,
		Status: esploraStatus{Confirmed: tx.height > 0, BlockHeight: tx.height},
	}
}

func (c *LiquidChain) handleHeight(w http.ResponseWriter, _ *http.Request) {
	_, _ = fmt.Fprintf(w, "%d", c.Height())
}

func (c *LiquidChain) handleFees(w http.ResponseWriter, _ *http.Request) {
	c.mu.RLock()
	rate := c.feeRate
	c.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]float64{
		"fastestFee":  rate,
		"halfHourFee": rate,
		"hourFee":     rate,
		"minimumFee":  defaultLiquidFeeRate,
	})
}

func (c *LiquidChain) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	txid, err := c.broadcastHex(strings.TrimSpace(string(body)))
	if err != nil {
		http.Error(w, "sendrawtransaction RPC error: "+err.Error(), http.StatusBadRequest)
		return
	}
	_, _ = io.WriteString(w, txid)
}

func (c *LiquidChain) handleTx(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || len(parts) > 3 || (len(parts) == 3 && parts[2] != "hex") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	hash, err := chainhash.NewHashFromStr(parts[1])
	if err != nil {
		http.Error(w, "Invalid hex string", http.StatusBadRequest)
		return
	}

	c.mu.RLock()
	tx, ok := c.txs[*hash]
	var resp esploraTx
	if ok {
		resp = c.toEsplora(tx)
	}
	c.mu.RUnlock()

	if !ok {
		http.Error(w, "Transaction not found", http.StatusNotFound)
		return
	}
	if len(parts) == 3 {
		txHex, _ := tx.tx.ToHex()
		_, _ = io.WriteString(w, txHex)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *LiquidChain) handleAddress(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path)
	if len(parts) != 3 || parts[2] != "txs" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	script, err := onchain.AddressScript(parts[1], c.chain)
	if err != nil {
		http.Error(w, "Invalid Liquid address", http.StatusBadRequest)
		return
	}

	c.mu.RLock()
	resp := make([]esploraTx, 0)
	for i := len(c.order) - 1; i >= 0; i-- {
		tx := c.txs[c.order[i]]
		if paysScript(tx.tx, script) {
			resp = append(resp, c.toEsplora(tx))
		}
	}
	c.mu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

func (c *LiquidChain) lockupAddress(script []byte, blindingKey *btcec.PublicKey) (string, error) {
	if blindingKey == nil {
		return "", fmt.Errorf("confidential lockup addresses need a blinding key")
	}
	p, err := payment.FromScript(script, c.chain.Liquid, blindingKey)
	if err != nil {
		return "", err
	}

	var addr string
	switch address.GetScriptType(script) {
	case address.P2WshScript:
		addr, err = p.ConfidentialWitnessScriptHash()
	case address.P2ShScript:
		addr, err = p.ConfidentialScriptHash()
	default:
		return "", fmt.Errorf("non standard lockup script")
	}
	if err != nil {
		return "", err
	}
	if addr == "" {
		return "", fmt.Errorf("failed to encode lockup address")
	}
	return addr, nil
}

func (c *LiquidChain) lockup(
	script []byte, value uint64, blindingKey *btcec.PublicKey, confirmed bool,
) (*lockupTx, error) {
	c.mu.RLock()
	asset := c.lockupAsset
	c.mu.RUnlock()

	tx, err := c.Fund(script, value, asset, blindingKey, confirmed)
	if err != nil {
		return nil, err
	}
	txHex, err := tx.ToHex()
	if err != nil {
		return nil, err
	}
	return &lockupTx{Txid: tx.TxHash().String(), Hex: txHex}, nil
}

func (c *LiquidChain) findLockup(script []byte) *lockupTx {
	txs := c.Paying(script)
	if len(txs) == 0 {
		return nil
	}
	txHex, err := txs[0].ToHex()
	if err != nil {
		return nil
	}
	return &lockupTx{Txid: txs[0].TxHash().String(), Hex: txHex}
}

func (c *LiquidChain) broadcastHex(txHex string) (string, error) {
	tx, err := transaction.NewTxFromHex(txHex)
	if err != nil {
		return "", errTxDecode
	}
	if err := c.Broadcast(tx); err != nil {
		return "", err
	}
	return tx.TxHash().String(), nil
}

func (c *LiquidChain) confidential() bool {
	return true
}
