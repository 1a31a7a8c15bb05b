package addr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/Lumiport-Network/relay/internal/errors"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dohServer answers RFC 8484 POST queries from a map of fqdn to TXT
// record values. Unknown names get NXDOMAIN.
func dohServer(t *testing.T, records map[string][]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var query dns.Msg
		require.NoError(t, query.Unpack(body))
		require.Len(t, query.Question, 1)

		reply := new(dns.Msg)
		reply.SetReply(&query)

		name := query.Question[0].Name
		values, ok := records[name]
		if !ok {
			reply.Rcode = dns.RcodeNameError
		} else {
			for _, v := range values {
				reply.Answer = append(reply.Answer, &dns.TXT{
					Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 300},
					Txt: []string{v},
				})
			}
		}

		packed, err := reply.Pack()
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/dns-message")
		_, _ = w.Write(packed)
	}))
}

func newTestResolver(doh, registry string) *Resolver {
	return NewResolver(&http.Client{Timeout: 5 * time.Second}, ResolverOptions{
		DoHEndpoint:     doh,
		RegistryAPIBase: registry,
		RecordKey:       "custom.relay.url",
		GatewaySuffix:   ".link",
		CacheSize:       16,
		CacheTTL:        time.Minute,
	})
}

func TestResolvePassThrough(t *testing.T) {
	r := newTestResolver("http://unused", "http://unused")

	for _, kind := range []Kind{KindIPv4, KindIPv6, KindDomain, KindUnknown} {
		endpoint, err := r.Resolve(context.Background(), "relay.example.com", kind)
		require.NoError(t, err)
		assert.Equal(t, "relay.example.com", endpoint)
	}
}

func TestResolveENSFromTXTRecord(t *testing.T) {
	srv := dohServer(t, map[string][]string{
		"_relay.myhost.eth.": {"relay=wss://custom.example.com:8443"},
	})
	defer srv.Close()

	r := newTestResolver(srv.URL, "http://unused")
	endpoint, err := r.Resolve(context.Background(), "myhost.eth", KindENS)
	require.NoError(t, err)
	assert.Equal(t, "wss://custom.example.com:8443", endpoint)
}

func TestResolveENSBareURLRecord(t *testing.T) {
	srv := dohServer(t, map[string][]string{
		"_relay.myhost.eth.": {"wss://direct.example.com"},
	})
	defer srv.Close()

	r := newTestResolver(srv.URL, "http://unused")
	endpoint, err := r.Resolve(context.Background(), "myhost.eth", KindENS)
	require.NoError(t, err)
	assert.Equal(t, "wss://direct.example.com", endpoint)
}

func TestResolveENSNotFound(t *testing.T) {
	srv := dohServer(t, map[string][]string{})
	defer srv.Close()

	r := newTestResolver(srv.URL, "http://unused")
	_, err := r.Resolve(context.Background(), "missing.eth", KindENS)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeResolution))
}

func TestResolveENSIgnoresUnrelatedRecords(t *testing.T) {
	srv := dohServer(t, map[string][]string{
		"_relay.myhost.eth.": {"v=spf1 -all", "relay=wss://real.example.com"},
	})
	defer srv.Close()

	r := newTestResolver(srv.URL, "http://unused")
	endpoint, err := r.Resolve(context.Background(), "myhost.eth", KindENS)
	require.NoError(t, err)
	assert.Equal(t, "wss://real.example.com", endpoint)
}

func TestResolveUnstoppableFromRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/domains/myhost.crypto", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"records":{"custom.relay.url":"wss://ud.example.com"}}`))
	}))
	defer srv.Close()

	r := newTestResolver("http://unused", srv.URL)
	endpoint, err := r.Resolve(context.Background(), "myhost.crypto", KindUnstoppable)
	require.NoError(t, err)
	assert.Equal(t, "wss://ud.example.com", endpoint)
}

func TestResolveUnstoppableGatewayFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"records":{}}`))
	}))
	defer srv.Close()

	r := newTestResolver("http://unused", srv.URL)
	endpoint, err := r.Resolve(context.Background(), "myhost.crypto", KindUnstoppable)
	require.NoError(t, err)
	assert.Equal(t, "wss://myhost.crypto.link", endpoint)
}

func TestResolveUnstoppableNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	r := newTestResolver("http://unused", srv.URL)
	_, err := r.Resolve(context.Background(), "missing.crypto", KindUnstoppable)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeResolution))
}

func TestResolveCachesResults(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"records":{"custom.relay.url":"wss://cached.example.com"}}`))
	}))
	defer srv.Close()

	r := newTestResolver("http://unused", srv.URL)
	for i := 0; i < 3; i++ {
		endpoint, err := r.Resolve(context.Background(), "myhost.crypto", KindUnstoppable)
		require.NoError(t, err)
		assert.Equal(t, "wss://cached.example.com", endpoint)
	}
	assert.Equal(t, 1, calls)
}
