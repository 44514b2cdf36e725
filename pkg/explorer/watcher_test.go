package explorer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ArkLabsHQ/boltz-swap/pkg/onchain"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu         sync.Mutex
	height     uint32
	feeRate    float64
	txs        map[string]*Transaction
	addressTxs map[string][]string
	failures   int
	broadcasts []string
}

func newFakeService() *fakeService {
	return &fakeService{
		txs:        make(map[string]*Transaction),
		addressTxs: make(map[string][]string),
	}
}

func (f *fakeService) addTx(address string, tx *Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[tx.Txid] = tx
	f.addressTxs[address] = append(f.addressTxs[address], tx.Txid)
}

func (f *fakeService) confirm(txid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[txid].Confirmed = true
}

// transient fails the next n reads.
func (f *fakeService) transient() error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset by peer")
	}
	return nil
}

func (f *fakeService) GetBlockHeight(context.Context) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.transient(); err != nil {
		return 0, err
	}
	return f.height, nil
}

func (f *fakeService) GetFeeRate(context.Context) (float64, error) {
	return f.feeRate, nil
}

func (f *fakeService) GetTransaction(_ context.Context, txid string) (*Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.transient(); err != nil {
		return nil, err
	}
	tx, ok := f.txs[txid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, txid)
	}
	cp := *tx
	return &cp, nil
}

func (f *fakeService) GetTransactionHex(_ context.Context, txid string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.txs[txid]; !ok {
		return "", ErrNotFound
	}
	return "hex-" + txid, nil
}

func (f *fakeService) GetAddressTransactions(_ context.Context, address string) ([]Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.transient(); err != nil {
		return nil, err
	}
	txs := make([]Transaction, 0)
	for _, txid := range f.addressTxs[address] {
		txs = append(txs, *f.txs[txid])
	}
	return txs, nil
}

func (f *fakeService) BroadcastTransaction(_ context.Context, txHex string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, txHex)
	if txHex == "rejected" {
		return "", &BroadcastError{Reason: "bad-txns-inputs-missingorspent"}
	}
	return "txid-" + txHex, nil
}

func (f *fakeService) Close() error { return nil }

var lockupScript = []byte{0x00, 0x20, 0xaa}

func TestCheckBlockHeight(t *testing.T) {
	svc := newFakeService()
	svc.height = 100
	svc.failures = 2
	w := NewWatcher(svc, nil, time.Millisecond)
	ctx := context.Background()

	tests := []struct {
		target uint32
		fails  bool
	}{
		{target: 99},
		{target: 100},
		{target: 101, fails: true},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("target %d", tc.target), func(t *testing.T) {
			err := w.CheckBlockHeight(ctx, tc.target)
			if !tc.fails {
				require.NoError(t, err)
				return
			}
			var heightErr *BlockHeightError
			require.ErrorAs(t, err, &heightErr)
			require.Equal(t, uint32(100), heightErr.Current)
			require.Equal(t, tc.target, heightErr.Target)
		})
	}
}

func TestGetFeeRate(t *testing.T) {
	svc := newFakeService()
	svc.feeRate = 7
	w := NewWatcher(svc, nil, time.Millisecond)

	rate, err := w.GetFeeRate(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 7.0, rate)

	rate, err = w.GetFeeRate(context.Background(), 2.5)
	require.NoError(t, err)
	require.Equal(t, 2.5, rate)
}

func TestWaitForLockup(t *testing.T) {
	t.Run("already funded", func(t *testing.T) {
		svc := newFakeService()
		svc.failures = 1
		svc.addTx("lockup", &Transaction{Txid: "other", Outputs: []Output{{Script: []byte{0x51}, Value: 1}}})
		svc.addTx("lockup", &Transaction{
			Txid:      "funding",
			Confirmed: true,
			Outputs:   []Output{{Script: []byte{0x51}, Value: 1}, {Script: lockupScript, Value: 39494}},
		})

		w := NewWatcher(svc, nil, time.Millisecond)
		lockup, err := w.WaitForLockup(context.Background(), "lockup", lockupScript)
		require.NoError(t, err)
		require.Equal(t, "funding", lockup.Txid)
		require.Equal(t, uint32(1), lockup.Vout)
		require.Equal(t, uint64(39494), lockup.Value)
		require.True(t, lockup.Confirmed)
		require.Equal(t, "hex-funding", lockup.TxHex)
	})

	t.Run("funded later", func(t *testing.T) {
		svc := newFakeService()
		w := NewWatcher(svc, nil, time.Millisecond)

		go func() {
			time.Sleep(20 * time.Millisecond)
			svc.addTx("lockup", &Transaction{Txid: "late", Outputs: []Output{{Script: lockupScript, Value: 1000}}})
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		lockup, err := w.WaitForLockup(ctx, "lockup", lockupScript)
		require.NoError(t, err)
		require.Equal(t, "late", lockup.Txid)
		require.False(t, lockup.Confirmed)
	})

	t.Run("funded before subscribing", func(t *testing.T) {
		svc := newFakeService()
		svc.addTx("lockup", &Transaction{Txid: "early", Outputs: []Output{{Script: lockupScript, Value: 1000}}})
		w := NewWatcher(svc, NewTracker(newSilentWS(t, false), 10*time.Millisecond), time.Hour)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		lockup, err := w.WaitForLockup(ctx, "lockup", lockupScript)
		require.NoError(t, err)
		require.Equal(t, "early", lockup.Txid)
		require.Equal(t, "hex-early", lockup.TxHex)
	})

	t.Run("funded while reconnecting", func(t *testing.T) {
		svc := newFakeService()
		w := NewWatcher(svc, NewTracker(newSilentWS(t, true), 10*time.Millisecond), time.Hour)

		go func() {
			time.Sleep(30 * time.Millisecond)
			svc.addTx("lockup", &Transaction{Txid: "late", Outputs: []Output{{Script: lockupScript, Value: 1000}}})
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		lockup, err := w.WaitForLockup(ctx, "lockup", lockupScript)
		require.NoError(t, err)
		require.Equal(t, "late", lockup.Txid)
	})

	t.Run("cancelled", func(t *testing.T) {
		w := NewWatcher(newFakeService(), nil, time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		_, err := w.WaitForLockup(ctx, "lockup", lockupScript)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestWaitForOutput(t *testing.T) {
	svc := newFakeService()
	w := NewWatcher(svc, nil, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		svc.addTx("lockup", &Transaction{Txid: "lock", Outputs: []Output{{Script: lockupScript, Value: 10}}})
		svc.addTx("other", &Transaction{Txid: "unrelated", Outputs: []Output{{Script: []byte{0x51}, Value: 10}}})
	}()

	lockup, err := w.WaitForOutput(ctx, "lock", lockupScript)
	require.NoError(t, err)
	require.Equal(t, uint32(0), lockup.Vout)
	require.Equal(t, "hex-lock", lockup.TxHex)

	_, err = w.WaitForOutput(ctx, "unrelated", lockupScript)
	require.ErrorIs(t, err, onchain.ErrLockupMismatch)
}

func TestWaitForConfirmation(t *testing.T) {
	svc := newFakeService()
	svc.addTx("lockup", &Transaction{Txid: "lock"})
	w := NewWatcher(svc, nil, time.Millisecond)

	go func() {
		time.Sleep(10 * time.Millisecond)
		svc.confirm("lock")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.WaitForConfirmation(ctx, "lock"))

	t.Run("confirmed before subscribing", func(t *testing.T) {
		svc := newFakeService()
		svc.addTx("lockup", &Transaction{Txid: "lock", Confirmed: true})
		w := NewWatcher(svc, NewTracker(newSilentWS(t, false), 10*time.Millisecond), time.Hour)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, w.WaitForConfirmation(ctx, "lock"))
	})
}

func TestBroadcast(t *testing.T) {
	svc := newFakeService()
	w := NewWatcher(svc, nil, time.Millisecond)

	txid, err := w.Broadcast(context.Background(), "0200")
	require.NoError(t, err)
	require.Equal(t, "txid-0200", txid)

	_, err = w.Broadcast(context.Background(), "rejected")
	var broadcastErr *BroadcastError
	require.ErrorAs(t, err, &broadcastErr)
	require.Len(t, svc.broadcasts, 2)
}
