package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Lumiport-Network/relay/internal/access"
	"github.com/Lumiport-Network/relay/internal/config"
	apperrors "github.com/Lumiport-Network/relay/internal/errors"
	"github.com/Lumiport-Network/relay/internal/events"
	"github.com/Lumiport-Network/relay/internal/limiter"
	"github.com/Lumiport-Network/relay/internal/logger"
	"github.com/Lumiport-Network/relay/internal/metrics"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// connState is one entry of the connection table. The auth timer is
// armed on register whenever authentication is pending and cancelled
// the moment a valid authenticate lands, so a stale timer never closes
// an authenticated connection.
type connState struct {
	peer          peer
	authenticated bool
	authTimer     *clock.Timer
}

// Hub owns the connection and session tables and applies the message
// protocol. Each table has its own mutex; the hub never holds both at
// once.
type Hub struct {
	cfg      config.RelayConfig
	access   *access.Controller
	authLim  *limiter.AuthLimiter
	bus      *events.Bus
	clk      clock.Clock
	sessions *sessionTable
	log      *zap.Logger

	mu    sync.RWMutex
	conns map[string]*connState
}

// NewHub builds the session engine around an access controller.
func NewHub(cfg config.RelayConfig, ac *access.Controller, authLim *limiter.AuthLimiter, bus *events.Bus, clk clock.Clock) *Hub {
	return &Hub{
		cfg:      cfg,
		access:   ac,
		authLim:  authLim,
		bus:      bus,
		clk:      clk,
		sessions: newSessionTable(),
		log:      logger.New("relay_hub"),
		conns:    make(map[string]*connState),
	}
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// SessionCount returns the number of live sessions.
func (h *Hub) SessionCount() int {
	return h.sessions.count()
}

// SetLinkDomains replaces the domain pool used to build session links.
func (h *Hub) SetLinkDomains(domains []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg.LinkDomains = append([]string(nil), domains...)
}

func (h *Hub) linkDomains() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg.LinkDomains
}

// register adds a connection to the table. Public mode authenticates
// immediately unless the host requires the connection PIN, which is
// independent of the access mode; every other case arms the auth
// timeout and tells the client what is expected.
func (h *Hub) register(p peer) {
	mode := h.access.Mode()
	immediate := mode == access.ModePublic && !h.access.ConnectionPinRequired()

	state := &connState{peer: p}
	if immediate {
		state.authenticated = true
	} else {
		state.authTimer = h.clk.AfterFunc(h.cfg.AuthTimeout, func() {
			h.authTimeoutFired(p)
		})
	}

	h.mu.Lock()
	h.conns[p.ID()] = state
	h.mu.Unlock()

	metrics.IncrementActiveConnections()

	if immediate {
		h.sendJSON(p, authResultReply{Type: MsgAuthResult, Allowed: true, ConnID: p.ID()})
	} else {
		h.sendJSON(p, authRequiredReply{
			Type:    MsgAuthRequired,
			Mode:    string(mode),
			Timeout: int(h.cfg.AuthTimeout.Seconds()),
		})
	}

	h.log.Debug("Connection registered",
		zap.String("connection_id", p.ID()),
		zap.String("client_ip", p.RemoteAddr()),
		zap.String("access_mode", string(mode)))
}

func (h *Hub) authTimeoutFired(p peer) {
	h.mu.Lock()
	state, ok := h.conns[p.ID()]
	expired := ok && !state.authenticated
	h.mu.Unlock()

	if !expired {
		return
	}
	metrics.AuthOutcomes.WithLabelValues("timeout").Inc()
	h.log.Info("Authentication timeout, closing connection",
		zap.String("connection_id", p.ID()),
		zap.String("client_ip", p.RemoteAddr()))
	p.Close("authentication timeout")
}

// unregister removes a connection, leaving every session it was part
// of as if it had sent leave-session for each.
func (h *Hub) unregister(p peer) {
	h.mu.Lock()
	state, ok := h.conns[p.ID()]
	if ok {
		delete(h.conns, p.ID())
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	if state.authTimer != nil {
		state.authTimer.Stop()
	}
	metrics.DecrementActiveConnections()

	for _, sessionID := range h.sessions.sessionsOf(p.ID()) {
		h.leaveSession(p, sessionID, false)
	}
	p.Close("")

	h.log.Debug("Connection unregistered", zap.String("connection_id", p.ID()))
}

// CloseAll disconnects every client, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	peers := make([]peer, 0, len(h.conns))
	for _, state := range h.conns {
		peers = append(peers, state.peer)
	}
	h.mu.Unlock()

	for _, p := range peers {
		h.unregister(p)
	}
}

func (h *Hub) isAuthenticated(connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	state, ok := h.conns[connID]
	return ok && state.authenticated
}

func (h *Hub) lookupPeer(connID string) (peer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	state, ok := h.conns[connID]
	if !ok {
		return nil, false
	}
	return state.peer, true
}

/* ------------------------------------------------------------------ *
|  Inbound messages                                                   |
* -------------------------------------------------------------------*/

// handleText applies one inbound text frame. Protocol violations are
// answered with an error reply and the connection stays open.
func (h *Hub) handleText(ctx context.Context, p peer, raw []byte) {
	msg, err := decodeClientMessage(raw)
	if err != nil {
		metrics.IncrementErrorCount()
		p.Send(encodeError(err))
		return
	}
	metrics.IncrementMessagesReceived(msg.Type)

	if msg.Type == MsgAuthenticate {
		h.handleAuthenticate(ctx, p, msg)
		return
	}
	if !h.isAuthenticated(p.ID()) {
		p.Send(encodeError(apperrors.AuthDeniedError("authentication required")))
		return
	}

	switch msg.Type {
	case MsgCreateSession:
		h.handleCreateSession(p, msg)
	case MsgJoinSession:
		h.handleJoinSession(p, msg)
	case MsgLeaveSession:
		h.leaveSession(p, msg.SessionID, true)
	case MsgSignal:
		h.handleSignal(p, msg)
	case MsgRelayData:
		h.handleRelayData(p, msg)
	case MsgBroadcast:
		h.handleBroadcast(p, msg)
	default:
		h.log.Debug("Unknown message type ignored",
			zap.String("connection_id", p.ID()),
			zap.String("type", msg.Type))
		p.Send(encodeError(apperrors.ProtocolViolationError(msg.Type, "unknown message type")))
	}
}

func (h *Hub) handleAuthenticate(ctx context.Context, p peer, msg *clientMessage) {
	clientIP := p.RemoteAddr()

	if h.authLim.Banned(clientIP) {
		metrics.AuthOutcomes.WithLabelValues("denied").Inc()
		h.sendJSON(p, authResultReply{Type: MsgAuthResult, Allowed: false, Reason: access.ReasonIPBlocked})
		return
	}

	decision := h.access.Verify(access.Credentials{
		PIN:      msg.PIN,
		Password: msg.Password,
		Code:     msg.Code,
	}, clientIP)
	if decision.Allowed {
		decision = h.access.VerifyConnectionPin(ctx, msg.ConnectionPin)
	}

	if !decision.Allowed {
		h.authLim.RecordFailure(clientIP)
		metrics.AuthOutcomes.WithLabelValues("denied").Inc()
		h.log.Info("Authentication denied",
			zap.String("connection_id", p.ID()),
			zap.String("client_ip", clientIP),
			zap.String("reason", decision.Reason))
		h.sendJSON(p, authResultReply{Type: MsgAuthResult, Allowed: false, Reason: decision.Reason})
		return
	}

	h.mu.Lock()
	state, ok := h.conns[p.ID()]
	if ok {
		state.authenticated = true
		if state.authTimer != nil {
			state.authTimer.Stop()
			state.authTimer = nil
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	h.authLim.RecordSuccess(clientIP)
	metrics.AuthOutcomes.WithLabelValues("granted").Inc()
	h.log.Info("Client authenticated",
		zap.String("connection_id", p.ID()),
		zap.String("client_ip", clientIP))
	h.sendJSON(p, authResultReply{Type: MsgAuthResult, Allowed: true, ConnID: p.ID()})
}

func (h *Hub) handleCreateSession(p peer, msg *clientMessage) {
	s, err := h.sessions.create(msg.SessionID, p.ID(), h.clk.Now())
	if err != nil {
		p.Send(encodeError(err))
		return
	}

	metrics.IncrementActiveSessions()
	h.bus.Publish(events.Event{Kind: events.SessionCreated, SessionID: s.id, PeerID: p.ID()})
	h.log.Info("Session created",
		zap.String("session_id", s.id),
		zap.String("host_connection_id", p.ID()))

	h.sendJSON(p, sessionCreatedReply{
		Type:      MsgSessionCreated,
		SessionID: s.id,
		Host:      true,
		Link:      BuildSessionLink(h.linkDomains(), s.id),
	})
}

func (h *Hub) handleJoinSession(p peer, msg *clientMessage) {
	participants, err := h.sessions.join(msg.SessionID, p.ID())
	if err != nil {
		p.Send(encodeError(err))
		return
	}

	h.sendJSON(p, sessionJoinedReply{
		Type:         MsgSessionJoined,
		SessionID:    msg.SessionID,
		Participants: participants,
	})

	note := peerNotification{Type: MsgPeerJoined, SessionID: msg.SessionID, PeerID: p.ID()}
	for _, connID := range participants {
		if connID == p.ID() {
			continue
		}
		if other, ok := h.lookupPeer(connID); ok {
			h.sendJSON(other, note)
		}
	}

	h.bus.Publish(events.Event{Kind: events.PeerJoined, SessionID: msg.SessionID, PeerID: p.ID()})
	h.log.Info("Peer joined session",
		zap.String("session_id", msg.SessionID),
		zap.String("connection_id", p.ID()),
		zap.Int("participants", len(participants)))
}

// leaveSession removes a peer from one session. notifyCaller is false
// on the implicit leave-all that runs at disconnect.
func (h *Hub) leaveSession(p peer, sessionID string, notifyCaller bool) {
	remaining, deleted, err := h.sessions.leave(sessionID, p.ID())
	if err != nil {
		if notifyCaller {
			p.Send(encodeError(err))
		}
		return
	}

	note := peerNotification{Type: MsgPeerLeft, SessionID: sessionID, PeerID: p.ID()}
	for _, connID := range remaining {
		if other, ok := h.lookupPeer(connID); ok {
			h.sendJSON(other, note)
		}
	}

	h.bus.Publish(events.Event{Kind: events.PeerLeft, SessionID: sessionID, PeerID: p.ID()})
	if deleted {
		metrics.DecrementActiveSessions()
		h.bus.Publish(events.Event{Kind: events.SessionClosed, SessionID: sessionID})
		h.log.Info("Session closed, last participant left", zap.String("session_id", sessionID))
	}
}

// handleSignal relays to the named target when it is in the session,
// otherwise fans out to every other participant.
func (h *Hub) handleSignal(p peer, msg *clientMessage) {
	participants := h.sessions.participants(msg.SessionID)
	if participants == nil {
		p.Send(encodeError(apperrors.SessionNotFoundError(msg.SessionID)))
		return
	}

	out := relayedMessage{
		Type:      MsgSignal,
		SessionID: msg.SessionID,
		SenderID:  p.ID(),
		Payload:   msg.Payload,
	}
	metrics.RelayedBytes.WithLabelValues("signal").Add(float64(len(msg.Payload)))

	if msg.Target != "" {
		for _, connID := range participants {
			if connID != msg.Target {
				continue
			}
			if target, ok := h.lookupPeer(connID); ok {
				h.sendJSON(target, out)
			}
			return
		}
	}
	for _, connID := range participants {
		if connID == p.ID() {
			continue
		}
		if other, ok := h.lookupPeer(connID); ok {
			h.sendJSON(other, out)
		}
	}
}

// handleRelayData relays point-to-point by connection id, independent
// of session membership. Missing targets drop silently.
func (h *Hub) handleRelayData(p peer, msg *clientMessage) {
	target, ok := h.lookupPeer(msg.Target)
	if !ok {
		return
	}
	metrics.RelayedBytes.WithLabelValues("data").Add(float64(len(msg.Payload)))
	h.sendJSON(target, relayedMessage{
		Type:     MsgData,
		SenderID: p.ID(),
		Payload:  msg.Payload,
	})
}

func (h *Hub) handleBroadcast(p peer, msg *clientMessage) {
	participants := h.sessions.participants(msg.SessionID)
	if participants == nil {
		p.Send(encodeError(apperrors.SessionNotFoundError(msg.SessionID)))
		return
	}

	out := relayedMessage{
		Type:      MsgBroadcast,
		SessionID: msg.SessionID,
		SenderID:  p.ID(),
		Payload:   msg.Payload,
	}
	metrics.RelayedBytes.WithLabelValues("broadcast").Add(float64(len(msg.Payload)))

	for _, connID := range participants {
		if connID == p.ID() {
			continue
		}
		if other, ok := h.lookupPeer(connID); ok {
			h.sendJSON(other, out)
		}
	}
}

// handleMedia relays one binary frame to the target named in its
// header, rewriting the header to the sender id. Unauthenticated
// senders, malformed frames, and missing targets all drop silently.
func (h *Hub) handleMedia(p peer, frame []byte) {
	if !h.isAuthenticated(p.ID()) {
		return
	}
	metrics.IncrementMessagesReceived("relay-media")

	targetID, payload, ok := decodeMediaFrame(frame)
	if !ok {
		return
	}
	target, ok := h.lookupPeer(targetID)
	if !ok {
		return
	}
	metrics.RelayedBytes.WithLabelValues("media").Add(float64(len(payload)))
	target.SendBinary(encodeMediaFrame(p.ID(), payload))
}

func (h *Hub) sendJSON(p peer, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		h.log.Error("Reply marshal failed", zap.Error(err))
		return
	}
	p.Send(raw)
}
