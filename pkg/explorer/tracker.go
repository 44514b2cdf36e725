package explorer

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"
)

const (
	msgAddressTransactions = "address-transactions"
	msgTxConfirmed         = "txConfirmed"
)

// Tracker waits for pushes of a mempool.space websocket. Each wait owns
// its own connection and redials it until the awaited message arrives.
type Tracker struct {
	url               string
	reconnectInterval time.Duration
}

func NewTracker(url string, reconnectInterval time.Duration) *Tracker {
	if reconnectInterval <= 0 {
		reconnectInterval = 3 * time.Second
	}
	return &Tracker{url: url, reconnectInterval: reconnectInterval}
}

// PollFunc reports whether the awaited condition already holds on the
// backend. Trackers run it every time a subscription goes live and after
// every failed connection attempt.
type PollFunc func(ctx context.Context) (bool, error)

// WaitForAddressTransactions blocks until the server pushes transactions
// touching address or poll reports done, in which case no transaction is
// returned.
func (t *Tracker) WaitForAddressTransactions(
	ctx context.Context, address string, poll PollFunc,
) ([]Transaction, error) {
	raw, err := t.waitForMessage(ctx, map[string]any{"track-address": address}, msgAddressTransactions, poll)
	if err != nil || raw == nil {
		return nil, err
	}

	var txs []esploraTx
	if err := decodeJSON(raw, &txs); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", msgAddressTransactions, err)
	}

	items := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		item, err := tx.toTransaction()
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

// WaitForTxConfirmed blocks until the server pushes the confirmation of
// txid or poll reports done.
func (t *Tracker) WaitForTxConfirmed(ctx context.Context, txid string, poll PollFunc) error {
	_, err := t.waitForMessage(ctx, map[string]any{"track-tx": txid}, msgTxConfirmed, poll)
	return err
}

func (t *Tracker) waitForMessage(
	ctx context.Context, track map[string]any, key string, poll PollFunc,
) (any, error) {
	for {
		value, err := t.listen(ctx, track, key, poll)
		if err == nil {
			return value, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.WithError(err).Debugf("mempool websocket dropped, reconnecting in %s", t.reconnectInterval)

		if runPoll(ctx, poll) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.reconnectInterval):
		}
	}
}

// listen returns the awaited message, or nil once poll reports done after
// the subscription is live.
func (t *Tracker) listen(ctx context.Context, track map[string]any, key string, poll PollFunc) (any, error) {
	dialCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, t.url, nil)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.url, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	want := map[string]any{"action": "want", "data": []string{"blocks"}}
	if err := conn.WriteJSON(want); err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(track); err != nil {
		return nil, err
	}

	if runPoll(ctx, poll) {
		return nil, nil
	}

	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return nil, err
		}
		if value, ok := msg[key]; ok && value != nil {
			return value, nil
		}
	}
}

func runPoll(ctx context.Context, poll PollFunc) bool {
	if poll == nil {
		return false
	}
	done, err := poll(ctx)
	if err != nil {
		log.WithError(err).Debug("failed to poll backend, waiting for websocket push")
		return false
	}
	return done
}

// decodeJSON maps a generic websocket payload onto the json tags of out.
func decodeJSON(in any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(in)
}
