package relay

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Lumiport-Network/relay/internal/config"
	"github.com/Lumiport-Network/relay/internal/logger"
	"github.com/Lumiport-Network/relay/internal/metrics"
	"github.com/Lumiport-Network/relay/internal/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server owns the HTTP listener: WebSocket upgrades for relay traffic
// plus the health and status endpoints.
type Server struct {
	cfg        config.RelayConfig
	hub        *Hub
	webHandler *web.Handler
	log        *zap.Logger
}

// NewServer builds the relay's HTTP front end.
func NewServer(cfg config.RelayConfig, hub *Hub) *Server {
	features := []string{"sessions", "signaling", "data-relay", "media-relay"}
	return &Server{
		cfg:        cfg,
		hub:        hub,
		webHandler: web.NewHandler(cfg.Name, config.Version, features, hub),
		log:        logger.New("relay_server"),
	}
}

// ListenAndServe runs the listener until the context is cancelled,
// then drains connections and shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	upgrader := websocket.Upgrader{
		ReadBufferSize:    64 * 1024,
		WriteBufferSize:   64 * 1024,
		CheckOrigin:       func(r *http.Request) bool { return true },
		EnableCompression: true,
		HandshakeTimeout:  10 * time.Second,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		metrics.HTTPRequests.Inc()

		if isWebSocketRequest(r) {
			s.handleUpgrade(ctx, w, r, upgrader)
			return
		}

		switch r.URL.Path {
		case "/health":
			s.webHandler.HandleHealth(w, r)
		case "/api/status":
			web.SecureAPIHandlerFunc(s.webHandler.HandleStatus)(w, r)
		default:
			http.NotFound(w, r)
		}
	})

	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down relay server")
		s.hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	s.log.Info("Relay server listening", zap.String("address", addr))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleUpgrade turns an HTTP request into a relay connection.
func (s *Server) handleUpgrade(ctx context.Context, w http.ResponseWriter, r *http.Request, upgrader websocket.Upgrader) {
	clientIP := extractClientIP(r.RemoteAddr,
		r.Header.Get("X-Real-IP"),
		r.Header.Get("X-Forwarded-For"))

	if s.hub.ConnectionCount() >= s.cfg.Throttling.MaxConnections {
		s.log.Warn("Connection limit reached, rejecting client",
			zap.String("client_ip", clientIP),
			zap.Int("max_connections", s.cfg.Throttling.MaxConnections))
		http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed",
			zap.String("client_ip", clientIP), zap.Error(err))
		return
	}

	client := newWSClient(ws, s.hub, s.cfg, clientIP)
	s.hub.register(client)
	go client.run(ctx)
}

func isWebSocketRequest(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
