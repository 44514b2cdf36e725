package mockboltz

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
)

const (
	defaultChainHeight = 100
	defaultFeeRate     = 2
)

type chainTx struct {
	tx *wire.MsgTx
	// height of the block that confirmed tx, 0 while in mempool.
	height uint32
}

// Chain is an in-memory esplora serving a single Bitcoin network. Broadcast
// transactions are checked with the script engine before being accepted.
type Chain struct {
	params *chaincfg.Params

	mu      sync.RWMutex
	height  uint32
	feeRate float64
	txs     map[chainhash.Hash]*chainTx
	order   []chainhash.Hash
	spent   map[wire.OutPoint]chainhash.Hash

	httpServer *http.Server
	listener   net.Listener
}

func NewChain(params *chaincfg.Params) *Chain {
	if params == nil {
		params = &chaincfg.RegressionNetParams
	}
	return &Chain{
		params:  params,
		height:  defaultChainHeight,
		feeRate: defaultFeeRate,
		txs:     make(map[chainhash.Hash]*chainTx),
		spent:   make(map[wire.OutPoint]chainhash.Hash),
	}
}

func (c *Chain) Start(listenAddr string) error {
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
			log.WithError(err).Error("mock chain stopped unexpectedly")
		}
	}()
	return nil
}

func (c *Chain) Stop() error {
	if c.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.httpServer.Shutdown(ctx)
}

func (c *Chain) URL() string {
	return listenerURL(c.listener)
}

func (c *Chain) Params() *chaincfg.Params {
	return c.params
}

func (c *Chain) Height() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height
}

func (c *Chain) SetFeeRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feeRate = rate
}

// Mine adds n blocks, the first one confirming every mempool transaction.
func (c *Chain) Mine(n uint32) {
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

// Fund publishes a transaction paying value to script out of thin air.
func (c *Chain) Fund(script []byte, value int64, confirmed bool) *wire.MsgTx {
	var prev chainhash.Hash
	_, _ = rand.Read(prev[:])

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prev, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, script))

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &chainTx{tx: tx}
	if confirmed {
		c.height++
		entry.height = c.height
	}
	c.add(entry)
	return tx
}

// Broadcast validates tx against the outputs it spends and adds it to the
// mempool.
func (c *Chain) Broadcast(tx *wire.MsgTx) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	txid := tx.TxHash()
	if _, ok := c.txs[txid]; ok {
		return fmt.Errorf("txn-already-known")
	}
	if !c.isFinal(tx) {
		return fmt.Errorf("non-final")
	}

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(tx.TxIn))
	for _, in := range tx.TxIn {
		prev, ok := c.txs[in.PreviousOutPoint.Hash]
		if !ok || int(in.PreviousOutPoint.Index) >= len(prev.tx.TxOut) {
			return fmt.Errorf("bad-txns-inputs-missingorspent")
		}
		if _, ok := c.spent[in.PreviousOutPoint]; ok {
			return fmt.Errorf("bad-txns-inputs-missingorspent")
		}
		prevOuts[in.PreviousOutPoint] = prev.tx.TxOut[in.PreviousOutPoint.Index]
	}

	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, in := range tx.TxIn {
		prevOut := prevOuts[in.PreviousOutPoint]
		vm, err := txscript.NewEngine(
			prevOut.PkScript, tx, i, txscript.StandardVerifyFlags, nil,
			sigHashes, prevOut.Value, fetcher,
		)
		if err != nil {
			return fmt.Errorf("mandatory-script-verify-flag-failed (%s)", err)
		}
		if err := vm.Execute(); err != nil {
			return fmt.Errorf("mandatory-script-verify-flag-failed (%s)", err)
		}
	}

	for _, in := range tx.TxIn {
		c.spent[in.PreviousOutPoint] = txid
	}
	c.add(&chainTx{tx: tx})
	return nil
}

func (c *Chain) Transaction(txid string) (*wire.MsgTx, bool) {
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
func (c *Chain) Paying(script []byte) []*wire.MsgTx {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var txs []*wire.MsgTx
	for _, txid := range c.order {
		tx := c.txs[txid].tx
		for _, out := range tx.TxOut {
			if bytes.Equal(out.PkScript, script) {
				txs = append(txs, tx)
				break
			}
		}
	}
	return txs
}

// Spending returns the transaction spending any output of txid.
func (c *Chain) Spending(txid string) (*wire.MsgTx, bool) {
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

func (c *Chain) add(tx *chainTx) {
	txid := tx.tx.TxHash()
	c.txs[txid] = tx
	c.order = append(c.order, txid)
}

// isFinal mirrors the consensus rule for block height locktimes: the tx
// must be minable in the next block.
func (c *Chain) isFinal(tx *wire.MsgTx) bool {
	if tx.LockTime == 0 || tx.LockTime >= txscript.LockTimeThreshold {
		return true
	}
	if tx.LockTime <= c.height {
		return true
	}
	for _, in := range tx.TxIn {
		if in.Sequence != wire.MaxTxInSequenceNum {
			return false
		}
	}
	return true
}

type esploraVout struct {
	ScriptPubKey        string `json:"scriptpubkey"`
	ScriptPubKeyAddress string `json:"scriptpubkey_address,omitempty"`
	Value               int64  `json:"value"`
}

type esploraStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight uint32 `json:"block_height,omitempty"`
}

type esploraTx struct {
	Txid   string        `json:"txid"`
	Vout   []esploraVout `json:"vout"`
	Status esploraStatus `json:"status"`
}

func (c *Chain) toEsplora(tx *chainTx) esploraTx {
	vouts := make([]esploraVout, 0, len(tx.tx.TxOut))
	for _, out := range tx.tx.TxOut {
		vout := esploraVout{ScriptPubKey: hex.EncodeToString(out.PkScript), Value: out.Value}
		if _, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, c.params); err == nil && len(addrs) == 1 {
			vout.ScriptPubKeyAddress = addrs[0].EncodeAddress()
		}
		vouts = append(vouts, vout)
	}
	return esploraTx{
		Txid:   tx.tx.TxHash().String(),
		Vout:   vouts,
		Status: esploraStatus{Confirmed: tx.height > 0, BlockHeight: tx.height},
	}
}

func (c *Chain) handleHeight(w http.ResponseWriter, _ *http.Request) {
	_, _ = fmt.Fprintf(w, "%d", c.Height())
}

func (c *Chain) handleFees(w http.ResponseWriter, _ *http.Request) {
	c.mu.RLock()
	rate := c.feeRate
	c.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]float64{
		"fastestFee":  rate * 2,
		"halfHourFee": rate,
		"hourFee":     rate,
		"minimumFee":  1,
	})
}

func (c *Chain) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	tx, err := deserializeTx(strings.TrimSpace(string(body)))
	if err != nil {
		http.Error(w, "sendrawtransaction RPC error: TX decode failed", http.StatusBadRequest)
		return
	}
	if err := c.Broadcast(tx); err != nil {
		http.Error(w, "sendrawtransaction RPC error: "+err.Error(), http.StatusBadRequest)
		return
	}
	_, _ = io.WriteString(w, tx.TxHash().String())
}

func (c *Chain) handleTx(w http.ResponseWriter, r *http.Request) {
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
		txHex, _ := serializeTx(tx.tx)
		_, _ = io.WriteString(w, txHex)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *Chain) handleAddress(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path)
	if len(parts) != 3 || parts[2] != "txs" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	addr, err := btcutil.DecodeAddress(parts[1], c.params)
	if err != nil {
		http.Error(w, "Invalid Bitcoin address", http.StatusBadRequest)
		return
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		http.Error(w, "Invalid Bitcoin address", http.StatusBadRequest)
		return
	}

	c.mu.RLock()
	resp := make([]esploraTx, 0)
	// esplora lists the newest transactions first
	for i := len(c.order) - 1; i >= 0; i-- {
		tx := c.txs[c.order[i]]
		for _, out := range tx.tx.TxOut {
			if bytes.Equal(out.PkScript, script) {
				resp = append(resp, c.toEsplora(tx))
				break
			}
		}
	}
	c.mu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

func serializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func deserializeTx(txHex string) (*wire.MsgTx, error) {
	b, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(2)
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return tx, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func splitPath(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}

func listenerURL(ln net.Listener) string {
	if ln == nil {
		return ""
	}
	addr := ln.Addr().String()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "::" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func (c *Chain) lockupAddress(script []byte, _ *btcec.PublicKey) (string, error) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, c.params)
	if err != nil {
		return "", err
	}
	if len(addrs) != 1 {
		return "", fmt.Errorf("non standard lockup script")
	}
	return addrs[0].EncodeAddress(), nil
}

func (c *Chain) lockup(script []byte, value uint64, _ *btcec.PublicKey, confirmed bool) (*lockupTx, error) {
	return newLockupTx(c.Fund(script, int64(value), confirmed))
}

func (c *Chain) findLockup(script []byte) *lockupTx {
	txs := c.Paying(script)
	if len(txs) == 0 {
		return nil
	}
	lockup, err := newLockupTx(txs[0])
	if err != nil {
		return nil
	}
	return lockup
}

func (c *Chain) broadcastHex(txHex string) (string, error) {
	tx, err := deserializeTx(txHex)
	if err != nil {
		return "", errTxDecode
	}
	if err := c.Broadcast(tx); err != nil {
		return "", err
	}
	return tx.TxHash().String(), nil
}

func (c *Chain) confidential() bool {
	return false
}

func newLockupTx(tx *wire.MsgTx) (*lockupTx, error) {
	txHex, err := serializeTx(tx)
	if err != nil {
		return nil, err
	}
	return &lockupTx{Txid: tx.TxHash().String(), Hex: txHex}, nil
}
