package mockboltz

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ArkLabsHQ/boltz-swap/pkg/boltz"
	"github.com/ArkLabsHQ/boltz-swap/pkg/onchain"
	"github.com/ArkLabsHQ/boltz-swap/utils"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/gorilla/websocket"
	"github.com/lightningnetwork/lnd/input"
	log "github.com/sirupsen/logrus"
)

// LockupMode controls what the server does after creating a reverse swap.
type LockupMode string

const (
	LockupConfirmed LockupMode = "confirmed"
	LockupMempool   LockupMode = "mempool"
	LockupNone      LockupMode = "none"
)

const mockVersion = "3.5.0-mock"

type Config struct {
	ListenAddr string
	// Chain is the mock esplora BTC lockups are published to. Required,
	// invoices are encoded for its network.
	Chain *Chain
	// Liquid serves the L-BTC/BTC pair when set.
	Liquid *LiquidChain

	Pairs         map[string]boltz.Pair
	TimeoutBlocks uint32
	ReverseLockup LockupMode
	LockupDelay   time.Duration
}

// DefaultPairs mirrors the limits and fees Boltz advertised for its BTC
// pairs.
func DefaultPairs() map[string]boltz.Pair {
	pair := boltz.Pair{
		Hash:   "mock",
		Rate:   1,
		Limits: boltz.Limits{Minimal: 10000, Maximal: 40294967},
	}
	pair.Fees.Percentage = 0.5
	pair.Fees.PercentageSwapIn = 0.1
	pair.Fees.MinerFees.BaseAsset = boltz.MinerFees{
		Normal:  340,
		Reverse: boltz.ReverseMinerFees{Claim: 276, Lockup: 306},
	}
	pair.Fees.MinerFees.QuoteAsset = pair.Fees.MinerFees.BaseAsset

	liquid := pair
	liquid.Fees.MinerFees.BaseAsset = boltz.MinerFees{
		Normal:  147,
		Reverse: boltz.ReverseMinerFees{Claim: 152, Lockup: 276},
	}

	return map[string]boltz.Pair{
		string(onchain.PairBTC):    pair,
		string(onchain.PairLiquid): liquid,
	}
}

type swapState struct {
	ID                 string
	Type               boltz.SwapType
	PairId             string
	Status             string
	FailureReason      string
	RedeemScript       []byte
	Address            string
	LockupScript       []byte
	TimeoutBlockHeight uint32
	ExpectedAmount     uint64
	OnchainAmount      uint64
	Invoice            string
	BlindingKey        *btcec.PrivateKey
	Lockup             *lockupTx
}

type lockupTx struct {
	Txid string
	Hex  string
}

var errTxDecode = errors.New("TX decode failed")

// ledger is the chain the lockups of a pair are published to.
type ledger interface {
	Height() uint32
	lockupAddress(script []byte, blindingKey *btcec.PublicKey) (string, error)
	lockup(script []byte, value uint64, blindingKey *btcec.PublicKey, confirmed bool) (*lockupTx, error)
	findLockup(script []byte) *lockupTx
	broadcastHex(txHex string) (string, error)
	confidential() bool
}

type wsClient struct {
	subs map[string]struct{}
	mu   sync.Mutex
}

// Server speaks the legacy Boltz REST API plus the swap.update websocket
// channel. Liquid swaps get a fresh blinding key each.
type Server struct {
	cfg Config

	mu       sync.RWMutex
	swaps    map[string]*swapState
	requests map[string]int

	wsMu      sync.RWMutex
	wsClients map[*websocket.Conn]*wsClient
	upgrader  websocket.Upgrader

	privateKey *btcec.PrivateKey

	httpServer *http.Server
	listener   net.Listener
}

func New(cfg Config) (*Server, error) {
	if cfg.Chain == nil {
		return nil, fmt.Errorf("missing chain")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	if cfg.Pairs == nil {
		cfg.Pairs = DefaultPairs()
	}
	if cfg.TimeoutBlocks == 0 {
		cfg.TimeoutBlocks = 144
	}
	if cfg.ReverseLockup == "" {
		cfg.ReverseLockup = LockupConfirmed
	}
	if cfg.LockupDelay <= 0 {
		cfg.LockupDelay = 50 * time.Millisecond
	}

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("new server private key: %w", err)
	}

	return &Server{
		cfg:        cfg,
		swaps:      make(map[string]*swapState),
		requests:   make(map[string]int),
		wsClients:  make(map[*websocket.Conn]*wsClient),
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		privateKey: priv,
	}, nil
}

func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/version", s.counted(s.handleVersion))
	mux.HandleFunc("/getpairs", s.counted(s.handleGetPairs))
	mux.HandleFunc("/createswap", s.counted(s.handleCreateSwap))
	mux.HandleFunc("/swapstatus", s.counted(s.handleSwapStatus))
	mux.HandleFunc("/getswaptransaction", s.counted(s.handleSwapTransaction))
	mux.HandleFunc("/broadcasttransaction", s.counted(s.handleBroadcast))
	mux.HandleFunc("/v2/ws", s.handleWS)

	s.httpServer = &http.Server{Handler: mux}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("mock boltz server stopped unexpectedly")
		}
	}()

	return nil
}

func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.wsMu.Lock()
	for conn := range s.wsClients {
		_ = conn.Close()
	}
	s.wsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) String() string {
	return listenerURL(s.listener)
}

// Requests returns how many times endpoint was called.
func (s *Server) Requests(endpoint string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests[endpoint]
}

func (s *Server) PublicKey() *btcec.PublicKey {
	return s.privateKey.PubKey()
}

// SetStatus moves a swap to status and pushes the update to subscribers.
func (s *Server) SetStatus(id, status, failureReason string) error {
	s.mu.Lock()
	st, ok := s.swaps[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("swap %s not found", id)
	}
	st.Status = status
	st.FailureReason = failureReason
	update := st.toStatus()
	s.mu.Unlock()

	s.pushSwapUpdate(update)
	return nil
}

func (s *Server) counted(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[r.URL.Path]++
		s.mu.Unlock()
		handler(w, r)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, boltz.VersionResponse{Version: mockVersion})
}

func (s *Server) handleGetPairs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, boltz.GetPairsResponse{
		Info:     []string{},
		Warnings: []string{},
		Pairs:    s.cfg.Pairs,
	})
}

type createSwapRequest struct {
	Type            boltz.SwapType `json:"type"`
	PairId          string         `json:"pairId"`
	OrderSide       string         `json:"orderSide"`
	Invoice         string         `json:"invoice"`
	RefundPublicKey string         `json:"refundPublicKey"`
	InvoiceAmount   uint64         `json:"invoiceAmount"`
	PreimageHash    string         `json:"preimageHash"`
	ClaimPublicKey  string         `json:"claimPublicKey"`
}

func (s *Server) handleCreateSwap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, ok := s.cfg.Pairs[req.PairId]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("could not find pair with id: %s", req.PairId))
		return
	}
	chain, err := s.ledgerFor(req.PairId)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch req.Type {
	case boltz.SwapTypeSubmarine:
		resp, err := s.createSubmarine(req, pair, chain)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	case boltz.SwapTypeReverse:
		resp, err := s.createReverse(req, pair, chain)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid swap type: %s", req.Type))
	}
}

func (s *Server) createSubmarine(
	req createSwapRequest, pair boltz.Pair, chain ledger,
) (*boltz.CreateSwapResponse, error) {
	amount, paymentHash, err := utils.DecodeInvoice(req.Invoice)
	if err != nil {
		return nil, err
	}
	if err := checkLimits(amount, pair.Limits); err != nil {
		return nil, err
	}
	refundKey, err := parsePubKey(req.RefundPublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid refund public key: %w", err)
	}

	timeout := chain.Height() + s.cfg.TimeoutBlocks
	redeemScript, err := onchain.SubmarineScript(
		input.Ripemd160H(paymentHash), s.privateKey.PubKey(), refundKey, timeout,
	)
	if err != nil {
		return nil, err
	}
	_, p2shP2wsh, err := onchain.LockupScripts(redeemScript)
	if err != nil {
		return nil, err
	}
	blindingKey, err := newBlindingKey(chain)
	if err != nil {
		return nil, err
	}
	addr, err := chain.lockupAddress(p2shP2wsh, blindingPubKey(blindingKey))
	if err != nil {
		return nil, err
	}

	expected := amount + uint64(math.Ceil(float64(amount)*pair.Fees.PercentageSwapIn/100)) +
		pair.Fees.MinerFees.BaseAsset.Normal

	st := &swapState{
		ID:                 randomID(),
		Type:               boltz.SwapTypeSubmarine,
		PairId:             req.PairId,
		Status:             boltz.StatusInvoiceSet,
		RedeemScript:       redeemScript,
		Address:            addr,
		LockupScript:       p2shP2wsh,
		TimeoutBlockHeight: timeout,
		ExpectedAmount:     expected,
		Invoice:            req.Invoice,
		BlindingKey:        blindingKey,
	}
	s.mu.Lock()
	s.swaps[st.ID] = st
	s.mu.Unlock()

	log.WithField("swap", st.ID).Debugf("created submarine swap expecting %d sats", expected)

	scheme := "bitcoin"
	if chain.confidential() {
		scheme = "liquidnetwork"
	}
	return &boltz.CreateSwapResponse{
		Id: st.ID,
		Bip21: fmt.Sprintf(
			"%s:%s?amount=%s", scheme, st.Address, btcutil.Amount(expected).Format(btcutil.AmountBTC),
		),
		Address:            st.Address,
		RedeemScript:       hex.EncodeToString(redeemScript),
		ExpectedAmount:     expected,
		TimeoutBlockHeight: timeout,
		BlindingKey:        encodeBlindingKey(blindingKey),
	}, nil
}

func (s *Server) createReverse(
	req createSwapRequest, pair boltz.Pair, chain ledger,
) (*boltz.CreateReverseSwapResponse, error) {
	if err := checkLimits(req.InvoiceAmount, pair.Limits); err != nil {
		return nil, err
	}
	preimageHash, err := hex.DecodeString(req.PreimageHash)
	if err != nil || len(preimageHash) != sha256.Size {
		return nil, fmt.Errorf("invalid preimage hash")
	}
	claimKey, err := parsePubKey(req.ClaimPublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid claim public key: %w", err)
	}

	fees := pair.Fees
	percentageFee := uint64(math.Ceil(float64(req.InvoiceAmount) * fees.Percentage / 100))
	lockupFee := fees.MinerFees.BaseAsset.Reverse.Lockup
	if req.InvoiceAmount <= percentageFee+lockupFee {
		return nil, fmt.Errorf("invoice amount %d does not cover the fees", req.InvoiceAmount)
	}
	onchainAmount := req.InvoiceAmount - percentageFee - lockupFee

	timeout := chain.Height() + s.cfg.TimeoutBlocks
	redeemScript, err := onchain.ReverseScript(
		input.Ripemd160H(preimageHash), claimKey, s.privateKey.PubKey(), timeout,
	)
	if err != nil {
		return nil, err
	}
	p2wsh, _, err := onchain.LockupScripts(redeemScript)
	if err != nil {
		return nil, err
	}
	blindingKey, err := newBlindingKey(chain)
	if err != nil {
		return nil, err
	}
	addr, err := chain.lockupAddress(p2wsh, blindingPubKey(blindingKey))
	if err != nil {
		return nil, err
	}

	description := "Reverse Swap to BTC"
	if chain.confidential() {
		description = "Reverse Swap to L-BTC"
	}
	invoice, err := NewInvoice(s.cfg.Chain.Params(), preimageHash, req.InvoiceAmount, description)
	if err != nil {
		return nil, err
	}

	st := &swapState{
		ID:                 randomID(),
		Type:               boltz.SwapTypeReverse,
		PairId:             req.PairId,
		Status:             boltz.StatusSwapCreated,
		RedeemScript:       redeemScript,
		Address:            addr,
		LockupScript:       p2wsh,
		TimeoutBlockHeight: timeout,
		OnchainAmount:      onchainAmount,
		Invoice:            invoice,
		BlindingKey:        blindingKey,
	}
	s.mu.Lock()
	s.swaps[st.ID] = st
	s.mu.Unlock()

	if s.cfg.ReverseLockup != LockupNone {
		go s.lockupReverse(st.ID)
	}

	return &boltz.CreateReverseSwapResponse{
		Id:                 st.ID,
		Invoice:            invoice,
		RedeemScript:       hex.EncodeToString(redeemScript),
		LockupAddress:      st.Address,
		TimeoutBlockHeight: timeout,
		OnchainAmount:      onchainAmount,
		BlindingKey:        encodeBlindingKey(blindingKey),
	}, nil
}

func (s *Server) lockupReverse(id string) {
	time.Sleep(s.cfg.LockupDelay)

	s.mu.Lock()
	st, ok := s.swaps[id]
	if !ok || st.Lockup != nil {
		s.mu.Unlock()
		return
	}
	chain, err := s.ledgerFor(st.PairId)
	if err != nil {
		s.mu.Unlock()
		return
	}
	confirmed := s.cfg.ReverseLockup == LockupConfirmed
	lockup, err := chain.lockup(st.LockupScript, st.OnchainAmount, blindingPubKey(st.BlindingKey), confirmed)
	if err != nil {
		s.mu.Unlock()
		log.WithError(err).WithField("swap", id).Error("failed to lock up")
		return
	}
	st.Lockup = lockup
	st.Status = boltz.StatusTransactionMempool
	if confirmed {
		st.Status = boltz.StatusTransactionConfirmed
	}
	update := st.toStatus()
	s.mu.Unlock()

	log.WithField("swap", id).Debugf("locked up %d sats in %s", st.OnchainAmount, lockup.Txid)
	s.pushSwapUpdate(update)
}

func (s *Server) handleSwapStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := s.swapFromRequest(w, r)
	if !ok {
		return
	}

	chain, err := s.ledgerFor(st.PairId)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.mu.Lock()
	if st.Type == boltz.SwapTypeSubmarine && st.Lockup == nil {
		if lockup := chain.findLockup(st.LockupScript); lockup != nil {
			st.Lockup = lockup
			st.Status = boltz.StatusTransactionMempool
		}
	}
	resp := st.toStatus()
	s.mu.Unlock()

	resp.Id = ""
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSwapTransaction(w http.ResponseWriter, r *http.Request) {
	st, ok := s.swapFromRequest(w, r)
	if !ok {
		return
	}

	chain, err := s.ledgerFor(st.PairId)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.mu.RLock()
	lockup := st.Lockup
	timeout := st.TimeoutBlockHeight
	lockupScript := st.LockupScript
	s.mu.RUnlock()

	if lockup == nil {
		lockup = chain.findLockup(lockupScript)
	}
	if lockup == nil {
		writeError(w, http.StatusBadRequest, "could not find swap lockup transaction")
		return
	}

	resp := boltz.SwapTransactionResponse{
		TransactionHex:     lockup.Hex,
		TimeoutBlockHeight: timeout,
	}
	if height := chain.Height(); height < timeout {
		resp.TimeoutEta = uint64(time.Now().Add(time.Duration(timeout-height) * 10 * time.Minute).Unix())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req boltz.BroadcastTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var chain ledger
	switch req.Currency {
	case boltz.CurrencyBtc:
		chain = s.cfg.Chain
	case boltz.CurrencyLiquid:
		if s.cfg.Liquid != nil {
			chain = s.cfg.Liquid
		}
	}
	if chain == nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("could not find currency: %s", req.Currency))
		return
	}

	txid, err := chain.broadcastHex(req.TransactionHex)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, boltz.BroadcastTransactionResponse{TransactionId: txid})
}

func (s *Server) swapFromRequest(w http.ResponseWriter, r *http.Request) (*swapState, bool) {
	var req struct {
		Id string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}

	s.mu.RLock()
	st, ok := s.swaps[req.Id]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("could not find swap with id: %s", req.Id))
		return nil, false
	}
	return st, true
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	s.wsMu.Lock()
	s.wsClients[conn] = &wsClient{subs: make(map[string]struct{})}
	s.wsMu.Unlock()

	defer func() {
		s.wsMu.Lock()
		delete(s.wsClients, conn)
		s.wsMu.Unlock()
		_ = conn.Close()
	}()

	for {
		var msg struct {
			Op      string   `json:"op"`
			Channel string   `json:"channel"`
			Args    []string `json:"args"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Op != "subscribe" || msg.Channel != "swap.update" {
			continue
		}

		s.wsMu.RLock()
		client := s.wsClients[conn]
		s.wsMu.RUnlock()
		if client == nil {
			continue
		}

		client.mu.Lock()
		for _, id := range msg.Args {
			client.subs[id] = struct{}{}
		}

		// Subscribers get the current status of every swap right away.
		updates := make([]boltz.SwapStatusResponse, 0, len(msg.Args))
		s.mu.RLock()
		for _, id := range msg.Args {
			if st, ok := s.swaps[id]; ok {
				updates = append(updates, st.toStatus())
			}
		}
		s.mu.RUnlock()

		_ = conn.WriteJSON(map[string]any{
			"event":   "subscribe",
			"channel": "swap.update",
			"args":    msg.Args,
		})
		if len(updates) > 0 {
			_ = conn.WriteJSON(map[string]any{
				"event":   "update",
				"channel": "swap.update",
				"args":    updates,
			})
		}
		client.mu.Unlock()
	}
}

func (s *Server) pushSwapUpdate(update boltz.SwapStatusResponse) {
	payload := map[string]any{
		"event":   "update",
		"channel": "swap.update",
		"args":    []boltz.SwapStatusResponse{update},
	}

	s.wsMu.RLock()
	defer s.wsMu.RUnlock()

	for conn, client := range s.wsClients {
		client.mu.Lock()
		if _, ok := client.subs[update.Id]; ok {
			if err := conn.WriteJSON(payload); err != nil {
				log.WithError(err).Warn("failed to push ws event")
			}
		}
		client.mu.Unlock()
	}
}

func (st *swapState) toStatus() boltz.SwapStatusResponse {
	resp := boltz.SwapStatusResponse{
		Id:            st.ID,
		Status:        st.Status,
		FailureReason: st.FailureReason,
	}
	if st.Lockup != nil {
		resp.Transaction = &boltz.SwapTransaction{Id: st.Lockup.Txid, Hex: st.Lockup.Hex}
	}
	return resp
}

func (s *Server) ledgerFor(pairId string) (ledger, error) {
	switch pairId {
	case string(onchain.PairBTC):
		return s.cfg.Chain, nil
	case string(onchain.PairLiquid):
		if s.cfg.Liquid != nil {
			return s.cfg.Liquid, nil
		}
	}
	return nil, fmt.Errorf("mock boltz has no chain for pair %s", pairId)
}

// newBlindingKey returns the key blinding the lockup of a swap, nil on
// plain chains.
func newBlindingKey(chain ledger) (*btcec.PrivateKey, error) {
	if !chain.confidential() {
		return nil, nil
	}
	return btcec.NewPrivateKey()
}

func blindingPubKey(key *btcec.PrivateKey) *btcec.PublicKey {
	if key == nil {
		return nil
	}
	return key.PubKey()
}

func encodeBlindingKey(key *btcec.PrivateKey) string {
	if key == nil {
		return ""
	}
	return hex.EncodeToString(key.Serialize())
}

func checkLimits(amount uint64, limits boltz.Limits) error {
	if amount < limits.Minimal {
		return fmt.Errorf("%d is less than minimal of %d", amount, limits.Minimal)
	}
	if amount > limits.Maximal {
		return fmt.Errorf("%d exceeds maximal of %d", amount, limits.Maximal)
	}
	return nil
}

func parsePubKey(pubKeyHex string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(b)
}

func randomID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
