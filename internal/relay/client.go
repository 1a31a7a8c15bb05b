package relay

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lumiport-Network/relay/internal/config"
	"github.com/Lumiport-Network/relay/internal/logger"
	"github.com/Lumiport-Network/relay/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeDeadline = 10 * time.Second
	pingInterval  = 15 * time.Second
	readGrace     = 60 * time.Second
)

// peer is the hub's view of one connection. The hub never touches the
// socket directly, which keeps its logic testable with fake peers.
type peer interface {
	ID() string
	RemoteAddr() string
	Send(msg []byte)
	SendBinary(payload []byte)
	Close(reason string)
}

// wsClient wraps one gorilla WebSocket connection. Writes are
// serialized through writeMu; reads happen only on the readLoop
// goroutine.
type wsClient struct {
	id       string
	ws       *websocket.Conn
	hub      *Hub
	clientIP string
	limiter  *rate.Limiter
	log      *zap.Logger

	writeMu  sync.Mutex
	closed   atomic.Bool
	closeFns sync.Once

	pingTicker *time.Ticker
	stopPing   chan struct{}
}

func newWSClient(ws *websocket.Conn, hub *Hub, cfg config.RelayConfig, clientIP string) *wsClient {
	c := &wsClient{
		id:       "conn-" + uuid.NewString(),
		ws:       ws,
		hub:      hub,
		clientIP: clientIP,
		limiter: rate.NewLimiter(
			rate.Limit(cfg.Throttling.MaxMessagesPerSecond),
			cfg.Throttling.BurstSize,
		),
		log:        logger.New("relay_client"),
		pingTicker: time.NewTicker(pingInterval),
		stopPing:   make(chan struct{}),
	}

	ws.SetReadLimit(cfg.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(readGrace)) // nolint:errcheck // deadline is non-critical
	ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(readGrace)) // nolint:errcheck
		return nil
	})
	ws.SetPingHandler(func(appData string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		_ = c.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
		return nil
	})

	return c
}

func (c *wsClient) ID() string         { return c.id }
func (c *wsClient) RemoteAddr() string { return c.clientIP }

// Send writes one text frame. Failed or closed connections drop the
// message; relay delivery is fire-and-forget.
func (c *wsClient) Send(msg []byte) {
	if c.closed.Load() {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline)) // nolint:errcheck
	if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		c.log.Debug("Text write failed", zap.String("connection_id", c.id), zap.Error(err))
		return
	}
	metrics.IncrementMessagesSent()
}

// SendBinary writes one binary frame, used for media relay.
func (c *wsClient) SendBinary(payload []byte) {
	if c.closed.Load() {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline)) // nolint:errcheck
	if err := c.ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		c.log.Debug("Binary write failed", zap.String("connection_id", c.id), zap.Error(err))
	}
}

// Close sends a close frame and releases the socket. Safe to call
// multiple times and from any goroutine.
func (c *wsClient) Close(reason string) {
	c.closeFns.Do(func() {
		c.closed.Store(true)
		close(c.stopPing)
		c.pingTicker.Stop()

		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second)) // nolint:errcheck
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
		c.writeMu.Unlock()

		_ = c.ws.Close()
	})
}

// run pumps inbound frames into the hub until the socket dies, then
// unregisters. pingLoop keeps half-open connections from lingering.
func (c *wsClient) run(ctx context.Context) {
	go c.pingLoop(ctx)
	defer c.hub.unregister(c)

	for {
		msgType, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("Connection closed unexpectedly",
					zap.String("connection_id", c.id), zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readGrace)) // nolint:errcheck

		if !c.limiter.Allow() {
			c.log.Warn("Message rate limit exceeded",
				zap.String("connection_id", c.id),
				zap.String("client_ip", c.clientIP))
			continue
		}

		switch msgType {
		case websocket.TextMessage:
			c.hub.handleText(ctx, c, raw)
		case websocket.BinaryMessage:
			c.hub.handleMedia(c, raw)
		}
	}
}

func (c *wsClient) pingLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopPing:
			return
		case <-c.pingTicker.C:
			c.writeMu.Lock()
			_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)) // nolint:errcheck
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.Close("ping failed")
				return
			}
		}
	}
}

// extractClientIP returns the real client address, honoring proxy
// headers the way a reverse-proxied deployment sets them.
func extractClientIP(remoteAddr, realIP, forwardedFor string) string {
	if realIP != "" {
		return strings.TrimSpace(realIP)
	}
	if forwardedFor != "" {
		parts := strings.Split(forwardedFor, ",")
		if len(parts) > 0 && strings.TrimSpace(parts[0]) != "" {
			return strings.TrimSpace(parts[0])
		}
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
