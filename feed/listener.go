package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"salefeed-relay/utils"
)

const (
	// defaultReadTimeout applies until the server announces its ping timing.
	defaultReadTimeout = 60 * time.Second
	writeTimeout       = 10 * time.Second
	handshakeTimeout   = 15 * time.Second
	maxMessageSize     = 4 << 20

	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = time.Minute
)

var (
	errServerClosed = errors.New("server closed the session")
	errConnectError = errors.New("namespace connect rejected")
)

// JoinFilter is the subscription payload sent with the join event.
type JoinFilter struct {
	Currency string `json:"currency"`
	Locale   string `json:"locale"`
	AppID    int    `json:"appid"`
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	URL       string
	JoinEvent string
	SaleEvent string
	Filter    JoinFilter

	// Reconnect re-establishes dropped sessions with exponential backoff.
	// Without it Run returns after the first session ends.
	Reconnect bool
	// ReconnectMaxElapsed bounds one run of failed reconnect attempts.
	// Zero retries forever.
	ReconnectMaxElapsed time.Duration
	ReconnectBaseDelay  time.Duration

	// RelayConcurrency caps simultaneous relay calls; batches over the cap
	// wait their turn. Zero means no cap.
	RelayConcurrency int
}

// Listener subscribes to the upstream Socket.IO sale feed and relays every
// sale batch to a Forwarder, one call per batch, in the background.
type Listener struct {
	cfg    ListenerConfig
	relay  Forwarder
	pool   *utils.WorkerPool
	dialer *websocket.Dialer
	logger *utils.Logger
}

// NewListener creates a Listener relaying through fwd.
func NewListener(cfg ListenerConfig, fwd Forwarder, logger *utils.Logger) *Listener {
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = reconnectBaseDelay
	}
	return &Listener{
		cfg:   cfg,
		relay: fwd,
		pool:  utils.NewWorkerPool(cfg.RelayConcurrency),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: logger,
	}
}

// Run holds the feed subscription open until ctx is cancelled, reconnecting
// if configured to. It waits for in-flight relays before returning. The
// returned error is nil on cancellation.
func (l *Listener) Run(ctx context.Context) error {
	defer l.pool.Wait()

	if !l.cfg.Reconnect {
		_, err := l.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			l.logger.Error("[feed] WebSocket error: %v", err)
		}
		l.logger.Warn("[feed] Disconnected from the WebSocket server; reconnection disabled")
		return err
	}

	retry := &utils.RetryConfig{
		BaseDelay:  l.cfg.ReconnectBaseDelay,
		MaxDelay:   reconnectMaxDelay,
		MaxElapsed: l.cfg.ReconnectMaxElapsed,
		Logger:     l.logger,
	}
	for {
		err := retry.Do(ctx, "feed session", func() error {
			established, err := l.session(ctx)
			if ctx.Err() != nil {
				return utils.Permanent(ctx.Err())
			}
			if established {
				// A healthy session ended; start the next one with a fresh backoff.
				l.logger.Warn("[feed] Disconnected from the WebSocket server: %v", err)
				return nil
			}
			return err
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			l.logger.Error("[feed] Giving up on the feed: %v", err)
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.cfg.ReconnectBaseDelay):
		}
	}
}

// session runs one websocket connection to completion. established reports
// whether the namespace connect succeeded before the session ended.
func (l *Listener) session(ctx context.Context) (established bool, err error) {
	wsURL, err := socketURL(l.cfg.URL)
	if err != nil {
		return false, utils.Permanent(err)
	}

	conn, _, err := l.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	readTimeout := defaultReadTimeout

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout)) //nolint:errcheck
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return established, nil
			}
			return established, fmt.Errorf("read: %w", err)
		}
		if len(msg) == 0 {
			continue
		}

		switch msg[0] {
		case engineOpen:
			var hs handshake
			if err := json.Unmarshal(msg[1:], &hs); err != nil {
				return established, fmt.Errorf("open packet: %w", err)
			}
			readTimeout = hs.readTimeout()
			l.logger.Debug("[feed] Engine.IO session %s open (read timeout %v)", hs.SID, readTimeout)
			if err := l.write(conn, connectFrame()); err != nil {
				return established, err
			}

		case enginePing:
			if err := l.write(conn, string(enginePong)); err != nil {
				return established, err
			}

		case engineClose:
			return established, errServerClosed

		case engineMessage:
			done, err := l.handleSocketPacket(ctx, conn, string(msg[1:]), &established)
			if err != nil || done {
				return established, err
			}

		default:
			// pong, upgrade and noop frames carry nothing for a websocket-only client.
		}
	}
}

// handleSocketPacket processes one Socket.IO packet. done reports that the
// server ended the session.
func (l *Listener) handleSocketPacket(ctx context.Context, conn *websocket.Conn, raw string, established *bool) (done bool, err error) {
	pkt, err := decodeSocketPacket(raw)
	if err != nil {
		l.logger.Warn("[feed] Ignoring malformed packet %.80q", raw)
		return false, nil
	}
	if pkt.Namespace != "/" {
		return false, nil
	}

	switch pkt.Type {
	case socketConnect:
		*established = true
		l.logger.Info("[feed] Connected to the WebSocket server %s", l.cfg.URL)
		frame, err := encodeEvent(l.cfg.JoinEvent, l.cfg.Filter)
		if err != nil {
			return false, err
		}
		if err := l.write(conn, frame); err != nil {
			return false, err
		}
		l.logger.Info("[feed] Subscribed with %s (currency=%s locale=%s appid=%d)",
			l.cfg.JoinEvent, l.cfg.Filter.Currency, l.cfg.Filter.Locale, l.cfg.Filter.AppID)

	case socketConnectError:
		return true, fmt.Errorf("%w: %s", errConnectError, string(pkt.Data))

	case socketDisconnect:
		return true, errServerClosed

	case socketEvent:
		name, args, err := eventArgs(pkt.Data)
		if err != nil {
			l.logger.Warn("[feed] Ignoring malformed event %.80q", raw)
			return false, nil
		}
		if name != l.cfg.SaleEvent {
			l.logger.Debug("[feed] Ignoring event %q", name)
			return false, nil
		}
		if len(args) == 0 {
			l.logger.Warn("[feed] %s event without payload", name)
			return false, nil
		}
		l.dispatch(ctx, args[0])
	}
	return false, nil
}

// dispatch relays one sale feed document in the background, one outbound
// call per document. Relays outlive ctx cancellation and are bounded by the
// relay's own timeout.
func (l *Listener) dispatch(ctx context.Context, payload json.RawMessage) {
	var doc struct {
		Sales []json.RawMessage `json:"sales"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		l.logger.Warn("[feed] Sale feed payload is not a JSON object: %v", err)
	}
	l.logger.Info("[feed] Received sale feed data: %d sales", len(doc.Sales))

	body := make([]byte, len(payload))
	copy(body, payload)
	relayCtx := context.WithoutCancel(ctx)

	l.pool.Submit(func() {
		status, err := l.relay.Forward(relayCtx, body)
		if err != nil {
			l.logger.Error("[feed] Relay failed, batch dropped: %v", err)
			return
		}
		if status < 200 || status > 299 {
			l.logger.Warn("[feed] Data posted to ingestion endpoint: %d", status)
			return
		}
		l.logger.Info("[feed] Data posted to ingestion endpoint: %d", status)
	})
}

func (l *Listener) write(conn *websocket.Conn, frame string) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
