// Package addr parses raw relay addresses into typed descriptors and
// resolves web3-backed domains to usable relay endpoints.
package addr

import (
	"net"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Kind classifies a parsed address.
type Kind string

const (
	KindIPv4        Kind = "ipv4"
	KindIPv6        Kind = "ipv6"
	KindDomain      Kind = "domain"
	KindENS         Kind = "ens"
	KindUnstoppable Kind = "unstoppable"
	KindUnknown     Kind = "unknown"
)

// ParseResult is a pure function of its input string; it carries no
// identity beyond its fields.
type ParseResult struct {
	Raw                string `json:"raw"`
	Kind               Kind   `json:"kind"`
	Host               string `json:"host,omitempty"`
	Port               int    `json:"port,omitempty"`
	Protocol           string `json:"protocol,omitempty"`
	RequiresResolution bool   `json:"requires_resolution"`
}

// Parser recognizes addresses against configurable web3 TLD lists.
type Parser struct {
	ensTLDs         map[string]struct{}
	unstoppableTLDs map[string]struct{}
}

// NewParser builds a parser for the given ENS-style and
// Unstoppable-style top-level label sets.
func NewParser(ensTLDs, unstoppableTLDs []string) *Parser {
	p := &Parser{
		ensTLDs:         make(map[string]struct{}, len(ensTLDs)),
		unstoppableTLDs: make(map[string]struct{}, len(unstoppableTLDs)),
	}
	for _, tld := range ensTLDs {
		p.ensTLDs[strings.ToLower(tld)] = struct{}{}
	}
	for _, tld := range unstoppableTLDs {
		p.unstoppableTLDs[strings.ToLower(tld)] = struct{}{}
	}
	return p
}

var domainRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)+$`)

// Parse classifies a raw address. It never fails: malformed input
// yields KindUnknown with best-effort host/port still populated.
//
// Recognition order: ws/wss URL, bare IPv4[:port], bracketed-or-bare
// IPv6[:port], web3 domain, conventional domain.
func (p *Parser) Parse(raw string) ParseResult {
	res := ParseResult{Raw: raw, Kind: KindUnknown}
	s := strings.TrimSpace(raw)
	if s == "" {
		return res
	}

	// Full URL with a WebSocket scheme.
	if strings.HasPrefix(s, "ws://") || strings.HasPrefix(s, "wss://") {
		u, err := url.Parse(s)
		if err != nil || u.Hostname() == "" {
			return res
		}
		res.Protocol = u.Scheme
		res.Host = u.Hostname()
		if port := u.Port(); port != "" {
			res.Port, _ = strconv.Atoi(port)
		}
		res.Kind = p.classifyHost(res.Host)
		res.RequiresResolution = res.Kind.RequiresResolution()
		return res
	}

	// IP literal with port: "1.2.3.4:443" or "[::1]:443".
	if ap, err := netip.ParseAddrPort(s); err == nil {
		res.Host = ap.Addr().String()
		res.Port = int(ap.Port())
		res.Kind = ipKind(ap.Addr())
		return res
	}

	// Bare IP literal, optionally bracketed IPv6.
	bare := s
	if strings.HasPrefix(bare, "[") && strings.HasSuffix(bare, "]") {
		bare = bare[1 : len(bare)-1]
	}
	if ip, err := netip.ParseAddr(bare); err == nil {
		res.Host = ip.String()
		res.Kind = ipKind(ip)
		return res
	}

	// Hostname with optional port.
	host, port := s, 0
	if h, ps, err := net.SplitHostPort(s); err == nil {
		if n, convErr := strconv.Atoi(ps); convErr == nil && n > 0 && n < 65536 {
			host, port = h, n
		}
	}
	if domainRe.MatchString(host) {
		res.Host = host
		res.Port = port
		res.Kind = p.classifyHost(host)
		res.RequiresResolution = res.Kind.RequiresResolution()
		return res
	}

	// Unresolvable shape: report what we can.
	res.Host = host
	res.Port = port
	return res
}

// classifyHost assigns a kind to a URL or domain host part.
func (p *Parser) classifyHost(host string) Kind {
	if ip, err := netip.ParseAddr(host); err == nil {
		return ipKind(ip)
	}
	labels := strings.Split(strings.ToLower(host), ".")
	if len(labels) >= 2 {
		tld := labels[len(labels)-1]
		if _, ok := p.ensTLDs[tld]; ok {
			return KindENS
		}
		if _, ok := p.unstoppableTLDs[tld]; ok {
			return KindUnstoppable
		}
	}
	if domainRe.MatchString(host) {
		return KindDomain
	}
	return KindUnknown
}

// RequiresResolution reports whether the kind needs a web3 lookup
// before it can be dialed.
func (k Kind) RequiresResolution() bool {
	return k == KindENS || k == KindUnstoppable
}

func ipKind(ip netip.Addr) Kind {
	if ip.Is4() || ip.Is4In6() {
		return KindIPv4
	}
	return KindIPv6
}
