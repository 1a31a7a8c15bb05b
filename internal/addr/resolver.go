package addr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/Lumiport-Network/relay/internal/errors"
	"github.com/Lumiport-Network/relay/internal/logger"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// txtRecordPrefix is the conventional DNS label relay endpoints are
// published under for ENS-style domains.
const txtRecordPrefix = "_relay."

// ResolverOptions configures endpoint resolution. Every endpoint and
// key is operator configuration, not protocol.
type ResolverOptions struct {
	// DoHEndpoint is an RFC 8484 DNS-over-HTTPS resolver used for
	// ENS-style TXT lookups.
	DoHEndpoint string
	// RegistryAPIBase is the domain-registry HTTP API queried for
	// Unstoppable-style domains.
	RegistryAPIBase string
	// RecordKey selects the custom record carrying the relay endpoint.
	RecordKey string
	// GatewaySuffix builds the fallback URL when no record is set.
	GatewaySuffix string
	// CacheSize / CacheTTL bound the resolution cache.
	CacheSize int
	CacheTTL  time.Duration
}

// Resolver turns web3 domains into relay endpoints. HTTP transport is
// constructor-injected so tests run against httptest servers.
type Resolver struct {
	client *http.Client
	opts   ResolverOptions
	cache  *expirable.LRU[string, string]
	log    *zap.Logger
}

// NewResolver builds a resolver with a TTL-bounded result cache.
func NewResolver(client *http.Client, opts ResolverOptions) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	size := opts.CacheSize
	if size <= 0 {
		size = 256
	}
	return &Resolver{
		client: client,
		opts:   opts,
		cache:  expirable.NewLRU[string, string](size, nil, opts.CacheTTL),
		log:    logger.New("resolver"),
	}
}

// Resolve returns a dialable relay endpoint for host. Only ENS-style
// and Unstoppable-style kinds need a lookup; everything else passes
// through unchanged.
func (r *Resolver) Resolve(ctx context.Context, host string, kind Kind) (string, error) {
	if !kind.RequiresResolution() {
		return host, nil
	}
	if cached, ok := r.cache.Get(host); ok {
		return cached, nil
	}

	var endpoint string
	var err error
	switch kind {
	case KindENS:
		endpoint, err = r.resolveENS(ctx, host)
	case KindUnstoppable:
		endpoint, err = r.resolveUnstoppable(ctx, host)
	}
	if err != nil {
		return "", err
	}

	r.cache.Add(host, endpoint)
	return endpoint, nil
}

// resolveENS queries a DoH TXT record at _relay.<domain>. The record
// may carry "relay=<url>" or a bare ws(s) URL; with no record the
// domain itself is assumed to be a secure WebSocket host.
func (r *Resolver) resolveENS(ctx context.Context, domain string) (string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(txtRecordPrefix+domain), dns.TypeTXT)
	packed, err := msg.Pack()
	if err != nil {
		return "", apperrors.ResolutionError(domain, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.opts.DoHEndpoint, bytes.NewReader(packed))
	if err != nil {
		return "", apperrors.ResolutionError(domain, err)
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", apperrors.NetworkError("DoH query", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NetworkError("DoH query",
			fmt.Errorf("resolver returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", apperrors.NetworkError("DoH query", err)
	}
	var reply dns.Msg
	if err := reply.Unpack(body); err != nil {
		return "", apperrors.InvalidResponseError("DoH resolver", err)
	}
	if reply.Rcode == dns.RcodeNameError {
		return "", apperrors.DomainNotFoundError(domain)
	}

	for _, ans := range reply.Answer {
		txt, ok := ans.(*dns.TXT)
		if !ok {
			continue
		}
		record := strings.TrimSpace(strings.Join(txt.Txt, ""))
		if endpoint, ok := endpointFromTXT(record); ok {
			return endpoint, nil
		}
	}

	// No usable record: the domain itself is the endpoint.
	r.log.Debug("No relay TXT record, falling back to domain host",
		zap.String("domain", domain))
	return "wss://" + domain, nil
}

// endpointFromTXT extracts a relay endpoint from a TXT record value.
func endpointFromTXT(record string) (string, bool) {
	if v, ok := strings.CutPrefix(record, "relay="); ok {
		v = strings.TrimSpace(v)
		if v != "" {
			return v, true
		}
		return "", false
	}
	if strings.HasPrefix(record, "ws://") || strings.HasPrefix(record, "wss://") {
		return record, true
	}
	return "", false
}

// resolveUnstoppable queries the domain-registry HTTP API for the
// configured custom record; with no record a gateway-style URL is
// assumed.
func (r *Resolver) resolveUnstoppable(ctx context.Context, domain string) (string, error) {
	lookupURL := strings.TrimSuffix(r.opts.RegistryAPIBase, "/") + "/domains/" + url.PathEscape(domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return "", apperrors.ResolutionError(domain, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", apperrors.NetworkError("registry lookup", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", apperrors.DomainNotFoundError(domain)
	case resp.StatusCode != http.StatusOK:
		return "", apperrors.NetworkError("registry lookup",
			fmt.Errorf("registry returned status %d", resp.StatusCode))
	}

	var payload struct {
		Records map[string]string `json:"records"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 256*1024)).Decode(&payload); err != nil {
		return "", apperrors.InvalidResponseError("domain registry", err)
	}

	if endpoint := strings.TrimSpace(payload.Records[r.opts.RecordKey]); endpoint != "" {
		return endpoint, nil
	}

	r.log.Debug("No relay record on domain, falling back to gateway URL",
		zap.String("domain", domain))
	return "wss://" + domain + r.opts.GatewaySuffix, nil
}
