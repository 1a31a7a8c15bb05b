package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Lumiport-Network/relay/internal/access"
	"github.com/Lumiport-Network/relay/internal/config"
	"github.com/Lumiport-Network/relay/internal/events"
	"github.com/Lumiport-Network/relay/internal/limiter"
	"github.com/Lumiport-Network/relay/internal/store"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePeer records everything the hub sends it.
type fakePeer struct {
	id   string
	ip   string
	mu   sync.Mutex
	sent [][]byte
	bins [][]byte

	closed      bool
	closeReason string
}

func newFakePeer(id, ip string) *fakePeer {
	return &fakePeer{id: id, ip: ip}
}

func (p *fakePeer) ID() string         { return p.id }
func (p *fakePeer) RemoteAddr() string { return p.ip }

func (p *fakePeer) Send(msg []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
}

func (p *fakePeer) SendBinary(payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bins = append(p.bins, payload)
}

func (p *fakePeer) Close(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.closeReason = reason
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// lastMessage decodes the most recent text frame into a generic map.
func (p *fakePeer) lastMessage(t *testing.T) map[string]any {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.sent, "peer %s received no messages", p.id)

	var m map[string]any
	require.NoError(t, json.Unmarshal(p.sent[len(p.sent)-1], &m))
	return m
}

// messagesOfType decodes every received frame with the given type.
func (p *fakePeer) messagesOfType(t *testing.T, msgType string) []map[string]any {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []map[string]any
	for _, raw := range p.sent {
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

func testRelayConfig() config.RelayConfig {
	return config.RelayConfig{
		Name:           "test-relay",
		ListenAddr:     ":0",
		LinkDomains:    []string{"link.lumiport.net"},
		AuthTimeout:    30 * time.Second,
		IdleTimeout:    5 * time.Minute,
		MaxMessageSize: 1 << 20,
		Throttling: config.ThrottlingConfig{
			MaxMessagesPerSecond: 100,
			BurstSize:            200,
			MaxConnections:       100,
		},
	}
}

func newTestHub(t *testing.T, clk clock.Clock, accessCfg access.Config) *Hub {
	t.Helper()
	ac, err := access.NewController(context.Background(), store.NewMemory(), clk, "test-relay", accessCfg)
	require.NoError(t, err)

	authLim := limiter.NewAuthLimiter(clk, 5*time.Minute, 5, 15*time.Minute)
	return NewHub(testRelayConfig(), ac, authLim, events.NewBus(), clk)
}

// registerPublic registers a peer on a public-mode hub, which
// authenticates it immediately.
func registerPublic(t *testing.T) (*Hub, func(id string) *fakePeer) {
	t.Helper()
	hub := newTestHub(t, clock.New(), access.Config{Mode: access.ModePublic})
	return hub, func(id string) *fakePeer {
		p := newFakePeer(id, "10.0.0.1")
		hub.register(p)
		result := p.lastMessage(t)
		require.Equal(t, MsgAuthResult, result["type"])
		require.Equal(t, true, result["allowed"])
		return p
	}
}

func TestCreateSessionReply(t *testing.T) {
	hub, connect := registerPublic(t)
	a := connect("conn-a")

	hub.handleText(context.Background(), a, []byte(`{"type":"create-session"}`))

	reply := a.lastMessage(t)
	assert.Equal(t, MsgSessionCreated, reply["type"])
	assert.Equal(t, true, reply["host"])

	sessionID, _ := reply["session_id"].(string)
	assert.GreaterOrEqual(t, len(sessionID), 20)
	assert.Equal(t, "https://link.lumiport.net/"+sessionID, reply["link"])
	assert.Equal(t, 1, hub.SessionCount())
}

func TestSetLinkDomainsTakesEffect(t *testing.T) {
	hub, connect := registerPublic(t)
	a := connect("conn-a")

	hub.SetLinkDomains([]string{"join.example.net"})
	hub.handleText(context.Background(), a, []byte(`{"type":"create-session"}`))

	reply := a.lastMessage(t)
	sessionID, _ := reply["session_id"].(string)
	assert.Equal(t, "https://join.example.net/"+sessionID, reply["link"])
}

func TestJoinUnknownSessionYieldsError(t *testing.T) {
	hub, connect := registerPublic(t)
	a := connect("conn-a")

	hub.handleText(context.Background(), a, []byte(`{"type":"join-session","session_id":"no-such-session-here"}`))

	reply := a.lastMessage(t)
	assert.Equal(t, MsgError, reply["type"])
	assert.Equal(t, "SESSION_NOT_FOUND", reply["code"])
	assert.Equal(t, 0, hub.SessionCount(), "joining never creates a session")
}

func TestSignalFanOutScenario(t *testing.T) {
	hub, connect := registerPublic(t)
	ctx := context.Background()
	a := connect("conn-a")
	b := connect("conn-b")

	hub.handleText(ctx, a, []byte(`{"type":"create-session"}`))
	sessionID := a.lastMessage(t)["session_id"].(string)

	hub.handleText(ctx, b, []byte(`{"type":"join-session","session_id":"`+sessionID+`"}`))

	joined := b.lastMessage(t)
	assert.Equal(t, MsgSessionJoined, joined["type"])
	assert.ElementsMatch(t, []any{"conn-a", "conn-b"}, joined["participants"])

	notes := a.messagesOfType(t, MsgPeerJoined)
	require.Len(t, notes, 1)
	assert.Equal(t, "conn-b", notes[0]["peer_id"])

	// A signals with no target: B receives it with A as sender.
	hub.handleText(ctx, a, []byte(`{"type":"signal","session_id":"`+sessionID+`","payload":{"sdp":"offer"}}`))

	signals := b.messagesOfType(t, MsgSignal)
	require.Len(t, signals, 1)
	assert.Equal(t, "conn-a", signals[0]["sender_id"])
	assert.Equal(t, map[string]any{"sdp": "offer"}, signals[0]["payload"])

	// B leaves: A gets peer-left and the session survives with A alone.
	hub.handleText(ctx, b, []byte(`{"type":"leave-session","session_id":"`+sessionID+`"}`))

	left := a.messagesOfType(t, MsgPeerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "conn-b", left[0]["peer_id"])
	assert.Equal(t, 1, hub.SessionCount())
	assert.Equal(t, []string{"conn-a"}, hub.sessions.participants(sessionID))
}

func TestSignalTargeted(t *testing.T) {
	hub, connect := registerPublic(t)
	ctx := context.Background()
	a := connect("conn-a")
	b := connect("conn-b")
	c := connect("conn-c")

	hub.handleText(ctx, a, []byte(`{"type":"create-session","session_id":"targeted-session-test"}`))
	hub.handleText(ctx, b, []byte(`{"type":"join-session","session_id":"targeted-session-test"}`))
	hub.handleText(ctx, c, []byte(`{"type":"join-session","session_id":"targeted-session-test"}`))

	hub.handleText(ctx, a, []byte(`{"type":"signal","session_id":"targeted-session-test","target":"conn-c","payload":"x"}`))

	assert.Empty(t, b.messagesOfType(t, MsgSignal))
	require.Len(t, c.messagesOfType(t, MsgSignal), 1)
}

func TestRelayDataPointToPoint(t *testing.T) {
	hub, connect := registerPublic(t)
	ctx := context.Background()
	a := connect("conn-a")
	b := connect("conn-b")

	// No session membership needed.
	hub.handleText(ctx, a, []byte(`{"type":"relay-data","target":"conn-b","payload":"hello"}`))

	data := b.messagesOfType(t, MsgData)
	require.Len(t, data, 1)
	assert.Equal(t, "conn-a", data[0]["sender_id"])
	assert.Equal(t, "hello", data[0]["payload"])

	// A missing target drops silently, no error reply.
	before := len(a.sent)
	hub.handleText(ctx, a, []byte(`{"type":"relay-data","target":"conn-gone","payload":"hello"}`))
	assert.Equal(t, before, len(a.sent))
}

func TestBroadcastToSession(t *testing.T) {
	hub, connect := registerPublic(t)
	ctx := context.Background()
	a := connect("conn-a")
	b := connect("conn-b")
	c := connect("conn-c")

	hub.handleText(ctx, a, []byte(`{"type":"create-session","session_id":"broadcast-session-one"}`))
	hub.handleText(ctx, b, []byte(`{"type":"join-session","session_id":"broadcast-session-one"}`))
	hub.handleText(ctx, c, []byte(`{"type":"join-session","session_id":"broadcast-session-one"}`))

	hub.handleText(ctx, a, []byte(`{"type":"broadcast","session_id":"broadcast-session-one","payload":"all"}`))

	for _, p := range []*fakePeer{b, c} {
		msgs := p.messagesOfType(t, MsgBroadcast)
		require.Len(t, msgs, 1, "peer %s", p.id)
		assert.Equal(t, "conn-a", msgs[0]["sender_id"])
	}
	assert.Empty(t, a.messagesOfType(t, MsgBroadcast), "sender does not hear its own broadcast")
}

func TestMediaRelayRewritesHeader(t *testing.T) {
	hub, connect := registerPublic(t)
	a := connect("conn-a")
	b := connect("conn-b")

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	hub.handleMedia(a, encodeMediaFrame("conn-b", payload))

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.bins, 1)

	senderID, got, ok := decodeMediaFrame(b.bins[0])
	require.True(t, ok)
	assert.Equal(t, "conn-a", senderID)
	assert.Equal(t, payload, got)
}

func TestMediaRelayDropsMalformedAndMissing(t *testing.T) {
	hub, connect := registerPublic(t)
	a := connect("conn-a")

	hub.handleMedia(a, []byte{})
	hub.handleMedia(a, []byte{200, 1})
	hub.handleMedia(a, encodeMediaFrame("conn-gone", []byte("x")))

	assert.False(t, a.isClosed())
}

func TestDisconnectLeavesAllSessions(t *testing.T) {
	hub, connect := registerPublic(t)
	ctx := context.Background()
	a := connect("conn-a")
	b := connect("conn-b")

	hub.handleText(ctx, a, []byte(`{"type":"create-session","session_id":"disconnect-session-one"}`))
	hub.handleText(ctx, b, []byte(`{"type":"join-session","session_id":"disconnect-session-one"}`))
	hub.handleText(ctx, b, []byte(`{"type":"create-session","session_id":"disconnect-session-two"}`))

	hub.unregister(b)

	// B is gone from the shared session; its solo session is deleted.
	assert.Equal(t, []string{"conn-a"}, hub.sessions.participants("disconnect-session-one"))
	assert.Nil(t, hub.sessions.participants("disconnect-session-two"))
	assert.Equal(t, 1, hub.SessionCount())

	left := a.messagesOfType(t, MsgPeerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "conn-b", left[0]["peer_id"])
}

func TestAuthTimeoutClosesConnection(t *testing.T) {
	mock := clock.NewMock()
	hub := newTestHub(t, mock, access.Config{Mode: access.ModePin, PinCode: "4321"})

	p := newFakePeer("conn-a", "10.0.0.1")
	hub.register(p)

	required := p.lastMessage(t)
	assert.Equal(t, MsgAuthRequired, required["type"])
	assert.Equal(t, string(access.ModePin), required["mode"])

	mock.Add(29 * time.Second)
	assert.False(t, p.isClosed(), "not closed before the timeout")

	mock.Add(2 * time.Second)
	assert.True(t, p.isClosed())
	assert.Equal(t, "authentication timeout", p.closeReason)
}

func TestAuthSuccessCancelsTimeout(t *testing.T) {
	mock := clock.NewMock()
	hub := newTestHub(t, mock, access.Config{Mode: access.ModePin, PinCode: "4321"})
	ctx := context.Background()

	p := newFakePeer("conn-a", "10.0.0.1")
	hub.register(p)

	// Wrong PIN keeps the connection open but unauthenticated.
	hub.handleText(ctx, p, []byte(`{"type":"authenticate","pin":"1234"}`))
	denied := p.lastMessage(t)
	assert.Equal(t, MsgAuthResult, denied["type"])
	assert.Equal(t, false, denied["allowed"])
	assert.Equal(t, access.ReasonInvalidPIN, denied["reason"])
	assert.False(t, p.isClosed())

	hub.handleText(ctx, p, []byte(`{"type":"authenticate","pin":"4321"}`))
	granted := p.lastMessage(t)
	assert.Equal(t, true, granted["allowed"])
	assert.Equal(t, "conn-a", granted["connection_id"])

	mock.Add(time.Minute)
	assert.False(t, p.isClosed(), "a stale timer must not close an authenticated connection")
}

func TestPublicModeStillEnforcesConnectionPin(t *testing.T) {
	mock := clock.NewMock()
	hub := newTestHub(t, mock, access.Config{
		Mode:          access.ModePublic,
		RequirePin:    true,
		ConnectionPin: &access.ConnectionPin{Value: "9999"},
	})
	ctx := context.Background()

	p := newFakePeer("conn-a", "10.0.0.1")
	hub.register(p)

	// The connection PIN is independent of the access mode, so public
	// mode must not short-circuit authentication while one is required.
	required := p.lastMessage(t)
	require.Equal(t, MsgAuthRequired, required["type"])

	hub.handleText(ctx, p, []byte(`{"type":"create-session"}`))
	reply := p.lastMessage(t)
	assert.Equal(t, MsgError, reply["type"])
	assert.Equal(t, "AUTH_DENIED", reply["code"])
	assert.Equal(t, 0, hub.SessionCount())

	// authenticate without the PIN is denied.
	hub.handleText(ctx, p, []byte(`{"type":"authenticate"}`))
	denied := p.lastMessage(t)
	assert.Equal(t, false, denied["allowed"])
	assert.Equal(t, access.ReasonInvalidConnPin, denied["reason"])

	hub.handleText(ctx, p, []byte(`{"type":"authenticate","connection_pin":"9999"}`))
	granted := p.lastMessage(t)
	require.Equal(t, true, granted["allowed"])

	hub.handleText(ctx, p, []byte(`{"type":"create-session"}`))
	assert.Equal(t, MsgSessionCreated, p.lastMessage(t)["type"])

	mock.Add(time.Minute)
	assert.False(t, p.isClosed(), "a stale timer must not close an authenticated connection")
}

func TestPublicModeConnectionPinTimeout(t *testing.T) {
	mock := clock.NewMock()
	hub := newTestHub(t, mock, access.Config{
		Mode:          access.ModePublic,
		RequirePin:    true,
		ConnectionPin: &access.ConnectionPin{Value: "9999"},
	})

	p := newFakePeer("conn-a", "10.0.0.1")
	hub.register(p)

	mock.Add(31 * time.Second)
	assert.True(t, p.isClosed())
	assert.Equal(t, "authentication timeout", p.closeReason)
}

func TestUnauthenticatedMessagesRejected(t *testing.T) {
	hub := newTestHub(t, clock.NewMock(), access.Config{Mode: access.ModePin, PinCode: "4321"})

	p := newFakePeer("conn-a", "10.0.0.1")
	hub.register(p)

	hub.handleText(context.Background(), p, []byte(`{"type":"create-session"}`))
	reply := p.lastMessage(t)
	assert.Equal(t, MsgError, reply["type"])
	assert.Equal(t, "AUTH_DENIED", reply["code"])
	assert.Equal(t, 0, hub.SessionCount())

	// Unauthenticated media drops silently.
	hub.handleMedia(p, encodeMediaFrame("conn-b", []byte("x")))
}

func TestMalformedMessageKeepsConnectionOpen(t *testing.T) {
	hub, connect := registerPublic(t)
	a := connect("conn-a")
	ctx := context.Background()

	hub.handleText(ctx, a, []byte(`{not json`))
	assert.Equal(t, MsgError, a.lastMessage(t)["type"])

	hub.handleText(ctx, a, []byte(`{"type":"warp-drive"}`))
	reply := a.lastMessage(t)
	assert.Equal(t, MsgError, reply["type"])
	assert.Equal(t, "PROTOCOL_VIOLATION", reply["code"])

	assert.False(t, a.isClosed())

	// The connection still works afterwards.
	hub.handleText(ctx, a, []byte(`{"type":"create-session"}`))
	assert.Equal(t, MsgSessionCreated, a.lastMessage(t)["type"])
}
