package addr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testParser() *Parser {
	return NewParser(
		[]string{"eth", "box"},
		[]string{"crypto", "nft", "x", "wallet", "polygon", "dao", "888", "blockchain", "bitcoin"},
	)
}

func TestParseClassification(t *testing.T) {
	p := testParser()

	tests := []struct {
		name string
		raw  string
		kind Kind
		host string
		port int
	}{
		{"ipv4 bare", "192.168.1.10", KindIPv4, "192.168.1.10", 0},
		{"ipv4 with port", "192.168.1.10:8085", KindIPv4, "192.168.1.10", 8085},
		{"ipv6 bare", "2001:db8::1", KindIPv6, "2001:db8::1", 0},
		{"ipv6 bracketed", "[2001:db8::1]", KindIPv6, "2001:db8::1", 0},
		{"ipv6 bracketed with port", "[2001:db8::1]:443", KindIPv6, "2001:db8::1", 443},
		{"domain", "relay.example.com", KindDomain, "relay.example.com", 0},
		{"domain with port", "relay.example.com:9000", KindDomain, "relay.example.com", 9000},
		{"ens domain", "myhost.eth", KindENS, "myhost.eth", 0},
		{"ens box domain", "myhost.box", KindENS, "myhost.box", 0},
		{"unstoppable crypto", "myhost.crypto", KindUnstoppable, "myhost.crypto", 0},
		{"unstoppable x", "myhost.x", KindUnstoppable, "myhost.x", 0},
		{"ws url", "ws://relay.example.com:8085", KindDomain, "relay.example.com", 8085},
		{"wss url with ip", "wss://10.0.0.5:443", KindIPv4, "10.0.0.5", 443},
		{"wss url ens", "wss://myhost.eth", KindENS, "myhost.eth", 0},
		{"garbage", "not a host!!", KindUnknown, "not a host!!", 0},
		{"empty", "", KindUnknown, "", 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := p.Parse(tc.raw)
			assert.Equal(t, tc.kind, res.Kind)
			assert.Equal(t, tc.host, res.Host)
			assert.Equal(t, tc.port, res.Port)
			assert.Equal(t, tc.raw, res.Raw)
		})
	}
}

func TestParseNeverErrors(t *testing.T) {
	p := testParser()

	for _, raw := range []string{"", "   ", "::::::", "[unclosed", "a b c", "ws://"} {
		res := p.Parse(raw)
		assert.Equal(t, KindUnknown, res.Kind, "input %q", raw)
	}
}

func TestParseWebSocketURLProtocol(t *testing.T) {
	p := testParser()

	res := p.Parse("wss://relay.example.com/path")
	assert.Equal(t, "wss", res.Protocol)
	assert.Equal(t, KindDomain, res.Kind)

	res = p.Parse("ws://relay.example.com")
	assert.Equal(t, "ws", res.Protocol)
}

func TestRequiresResolution(t *testing.T) {
	p := testParser()

	assert.True(t, p.Parse("host.eth").RequiresResolution)
	assert.True(t, p.Parse("host.crypto").RequiresResolution)
	assert.False(t, p.Parse("host.com").RequiresResolution)
	assert.False(t, p.Parse("10.1.2.3").RequiresResolution)
}
