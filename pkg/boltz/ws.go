package boltz

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"
)

const (
	pingInterval    = 30 * time.Second
	writeDeadline   = 10 * time.Second
	updateBufferLen = 16
)

var ErrWebsocketClosed = errors.New("websocket closed")

type wsRequest struct {
	Op      string   `json:"op"`
	Channel string   `json:"channel"`
	Args    []string `json:"args"`
}

type wsResponse struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Args    []any  `json:"args"`
}

// Websocket streams swap.update events. Updates is closed once the
// connection is closed for good.
type Websocket struct {
	Updates chan SwapStatusResponse

	apiURL string

	mu      sync.Mutex
	conn    *websocket.Conn
	swapIds []string
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func (boltz *Api) NewWebsocket() *Websocket {
	return &Websocket{
		Updates: make(chan SwapStatusResponse, updateBufferLen),
		apiURL:  boltz.wsURL(),
		done:    make(chan struct{}),
	}
}

func (boltz *Api) wsURL() string {
	if boltz.WSURL != "" {
		return boltz.WSURL
	}
	u, err := url.Parse(boltz.URL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v2/ws"
	return u.String()
}

// ConnectAndSubscribe dials the server, subscribes to the given swaps and
// starts streaming updates. A dropped connection is redialed every
// reconnectInterval until ctx is done or Close is called.
func (ws *Websocket) ConnectAndSubscribe(
	ctx context.Context, swapIds []string, reconnectInterval time.Duration,
) error {
	if ws.apiURL == "" {
		return fmt.Errorf("invalid websocket url")
	}

	ws.mu.Lock()
	ws.swapIds = append(ws.swapIds, swapIds...)
	ws.mu.Unlock()

	if err := ws.connect(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	ws.mu.Lock()
	ws.cancel = cancel
	ws.mu.Unlock()

	go ws.run(ctx, reconnectInterval)
	return nil
}

func (ws *Websocket) Subscribe(swapIds []string) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	ws.swapIds = append(ws.swapIds, swapIds...)
	if ws.conn == nil {
		return ErrWebsocketClosed
	}
	return ws.writeSubscribe(ws.conn, swapIds)
}

func (ws *Websocket) Close() error {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return nil
	}
	ws.closed = true
	cancel := ws.cancel
	conn := ws.conn
	ws.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		if err = conn.Close(); errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}
	if cancel != nil {
		<-ws.done
	} else {
		close(ws.Updates)
	}
	return err
}

func (ws *Websocket) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, defaultHTTPTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, ws.apiURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", ws.apiURL, err)
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		_ = conn.Close()
		return ErrWebsocketClosed
	}
	if err := ws.writeSubscribe(conn, ws.swapIds); err != nil {
		_ = conn.Close()
		return err
	}
	ws.conn = conn
	return nil
}

func (ws *Websocket) writeSubscribe(conn *websocket.Conn, swapIds []string) error {
	if len(swapIds) == 0 {
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteJSON(wsRequest{Op: "subscribe", Channel: "swap.update", Args: swapIds})
}

func (ws *Websocket) run(ctx context.Context, reconnectInterval time.Duration) {
	defer close(ws.done)
	defer close(ws.Updates)

	for {
		ws.mu.Lock()
		conn := ws.conn
		ws.mu.Unlock()

		err := ws.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		log.WithError(err).Warnf("boltz websocket disconnected, reconnecting in %s", reconnectInterval)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectInterval):
			}
			if err := ws.connect(ctx); err != nil {
				if errors.Is(err, ErrWebsocketClosed) {
					return
				}
				log.WithError(err).Debug("boltz websocket reconnect failed")
				continue
			}
			break
		}
	}
}

func (ws *Websocket) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go ws.keepAlive(ctx, conn, stop)

	for {
		var msg wsResponse
		if err := conn.ReadJSON(&msg); err != nil {
			_ = conn.Close()
			return err
		}

		switch msg.Event {
		case "update":
			if msg.Channel != "swap.update" {
				continue
			}
			for _, arg := range msg.Args {
				var update SwapStatusResponse
				if err := mapstructure.Decode(arg, &update); err != nil {
					log.WithError(err).Warn("invalid swap update")
					continue
				}
				select {
				case ws.Updates <- update:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		case "error":
			log.Warnf("boltz websocket error: %v", msg.Args)
		}
	}
}

func (ws *Websocket) keepAlive(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-ticker.C:
			ws.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline))
			ws.mu.Unlock()
			if err != nil {
				log.WithError(err).Debug("boltz websocket ping failed")
				return
			}
		}
	}
}

// SubscribeSwapStatus opens a websocket subscribed to a single swap.
func (boltz *Api) SubscribeSwapStatus(
	ctx context.Context, swapId string, reconnectInterval time.Duration,
) (*Websocket, error) {
	ws := boltz.NewWebsocket()
	if err := ws.ConnectAndSubscribe(ctx, []string{swapId}, reconnectInterval); err != nil {
		return nil, err
	}
	return ws, nil
}
