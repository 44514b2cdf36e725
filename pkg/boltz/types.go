package boltz

const (
	CurrencyBtc    Currency = "BTC"
	CurrencyLiquid Currency = "L-BTC"
)

type Currency string

const (
	SwapTypeSubmarine SwapType = "submarine"
	SwapTypeReverse   SwapType = "reversesubmarine"
)

type SwapType string

const (
	OrderSideSell = "sell"
	OrderSideBuy  = "buy"
)

// Swap statuses reported by /swapstatus and the websocket stream.
const (
	StatusSwapCreated               = "swap.created"
	StatusSwapExpired               = "swap.expired"
	StatusInvoiceSet                = "invoice.set"
	StatusInvoicePending            = "invoice.pending"
	StatusInvoicePaid               = "invoice.paid"
	StatusInvoiceSettled            = "invoice.settled"
	StatusInvoiceFailedToPay        = "invoice.failedToPay"
	StatusInvoiceExpired            = "invoice.expired"
	StatusMinerFeePaid              = "minerfee.paid"
	StatusTransactionMempool        = "transaction.mempool"
	StatusTransactionConfirmed      = "transaction.confirmed"
	StatusTransactionClaimed        = "transaction.claimed"
	StatusTransactionRefunded       = "transaction.refunded"
	StatusTransactionFailed         = "transaction.failed"
	StatusTransactionLockupFailed   = "transaction.lockupFailed"
	StatusTransactionZeroConfReject = "transaction.zeroconf.rejected"
)

type VersionResponse struct {
	Version string `json:"version"`
}

type Limits struct {
	Minimal uint64 `json:"minimal"`
	Maximal uint64 `json:"maximal"`
}

type ReverseMinerFees struct {
	Claim  uint64 `json:"claim"`
	Lockup uint64 `json:"lockup"`
}

type MinerFees struct {
	Normal  uint64           `json:"normal"`
	Reverse ReverseMinerFees `json:"reverse"`
}

type Fees struct {
	Percentage       float64 `json:"percentage"`
	PercentageSwapIn float64 `json:"percentageSwapIn"`
	MinerFees        struct {
		BaseAsset  MinerFees `json:"baseAsset"`
		QuoteAsset MinerFees `json:"quoteAsset"`
	} `json:"minerFees"`
}

type Pair struct {
	Hash   string  `json:"hash"`
	Rate   float64 `json:"rate"`
	Limits Limits  `json:"limits"`
	Fees   Fees    `json:"fees"`
}

type GetPairsResponse struct {
	Info     []string        `json:"info"`
	Warnings []string        `json:"warnings"`
	Pairs    map[string]Pair `json:"pairs"`
}

type CreateSwapRequest struct {
	Type            SwapType `json:"type"`
	PairId          string   `json:"pairId"`
	OrderSide       string   `json:"orderSide"`
	Invoice         string   `json:"invoice"`
	RefundPublicKey string   `json:"refundPublicKey"`
	ReferralId      string   `json:"referralId,omitempty"`
}

type CreateSwapResponse struct {
	Id                 string `json:"id"`
	Bip21              string `json:"bip21"`
	Address            string `json:"address"`
	RedeemScript       string `json:"redeemScript"`
	AcceptZeroConf     bool   `json:"acceptZeroConf"`
	ExpectedAmount     uint64 `json:"expectedAmount"`
	TimeoutBlockHeight uint32 `json:"timeoutBlockHeight"`
	BlindingKey        string `json:"blindingKey,omitempty"`

	Error string `json:"error,omitempty"`
}

type CreateReverseSwapRequest struct {
	Type           SwapType `json:"type"`
	PairId         string   `json:"pairId"`
	OrderSide      string   `json:"orderSide"`
	InvoiceAmount  uint64   `json:"invoiceAmount"`
	PreimageHash   string   `json:"preimageHash"`
	ClaimPublicKey string   `json:"claimPublicKey"`
	ReferralId     string   `json:"referralId,omitempty"`
}

type CreateReverseSwapResponse struct {
	Id                 string `json:"id"`
	Invoice            string `json:"invoice"`
	RedeemScript       string `json:"redeemScript"`
	LockupAddress      string `json:"lockupAddress"`
	TimeoutBlockHeight uint32 `json:"timeoutBlockHeight"`
	OnchainAmount      uint64 `json:"onchainAmount"`
	BlindingKey        string `json:"blindingKey,omitempty"`

	Error string `json:"error,omitempty"`
}

type SwapTransaction struct {
	Id  string `json:"id" mapstructure:"id"`
	Hex string `json:"hex,omitempty" mapstructure:"hex"`
}

type SwapStatusResponse struct {
	Id               string           `json:"id,omitempty" mapstructure:"id"`
	Status           string           `json:"status" mapstructure:"status"`
	FailureReason    string           `json:"failureReason,omitempty" mapstructure:"failureReason"`
	ZeroConfRejected bool             `json:"zeroConfRejected,omitempty" mapstructure:"zeroConfRejected"`
	Transaction      *SwapTransaction `json:"transaction,omitempty" mapstructure:"transaction"`
}

type SwapTransactionResponse struct {
	TransactionHex     string `json:"transactionHex"`
	TimeoutBlockHeight uint32 `json:"timeoutBlockHeight"`
	TimeoutEta         uint64 `json:"timeoutEta,omitempty"`
	FailureReason      string `json:"failureReason,omitempty"`
}

type BroadcastTransactionRequest struct {
	Currency       Currency `json:"currency"`
	TransactionHex string   `json:"transactionHex"`
}

type BroadcastTransactionResponse struct {
	TransactionId string `json:"transactionId"`
}

type swapIdRequest struct {
	Id string `json:"id"`
}

type SwapUpdateEvent int

const (
	UnknownEvent SwapUpdateEvent = iota
	SwapCreated
	SwapExpired
	InvoiceSet
	InvoicePending
	InvoicePaid
	InvoiceSettled
	InvoiceFailedToPay
	InvoiceExpired
	MinerFeePaid
	TransactionMempool
	TransactionConfirmed
	TransactionClaimed
	TransactionRefunded
	TransactionFailed
	TransactionLockupFailed
	TransactionZeroConfRejected
)

var swapUpdateEvents = map[string]SwapUpdateEvent{
	StatusSwapCreated:               SwapCreated,
	StatusSwapExpired:               SwapExpired,
	StatusInvoiceSet:                InvoiceSet,
	StatusInvoicePending:            InvoicePending,
	StatusInvoicePaid:               InvoicePaid,
	StatusInvoiceSettled:            InvoiceSettled,
	StatusInvoiceFailedToPay:        InvoiceFailedToPay,
	StatusInvoiceExpired:            InvoiceExpired,
	StatusMinerFeePaid:              MinerFeePaid,
	StatusTransactionMempool:        TransactionMempool,
	StatusTransactionConfirmed:      TransactionConfirmed,
	StatusTransactionClaimed:        TransactionClaimed,
	StatusTransactionRefunded:       TransactionRefunded,
	StatusTransactionFailed:         TransactionFailed,
	StatusTransactionLockupFailed:   TransactionLockupFailed,
	StatusTransactionZeroConfReject: TransactionZeroConfRejected,
}

func ParseEvent(status string) SwapUpdateEvent {
	if event, ok := swapUpdateEvents[status]; ok {
		return event
	}
	return UnknownEvent
}

func (e SwapUpdateEvent) String() string {
	for status, event := range swapUpdateEvents {
		if event == e {
			return status
		}
	}
	return "unknown"
}
