// Package metadata extracts the client address from inbound requests.
// Forwarding headers are only believed when the direct peer is a trusted proxy.
package metadata

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Origin records where a client address came from.
type Origin string

const (
	OriginForwarded Origin = "x-forwarded-for"
	OriginRealIP    Origin = "x-real-ip"
	OriginPeer      Origin = "peer"
	OriginUnknown   Origin = "unknown"
)

// ProxyPolicy decides which forwarding headers to believe.
type ProxyPolicy struct {
	trusted []netip.Prefix
}

// NewProxyPolicy trusts forwarding headers only from peers inside trusted.
// A nil or empty list trusts no one.
func NewProxyPolicy(trusted []netip.Prefix) *ProxyPolicy {
	return &ProxyPolicy{trusted: trusted}
}

func (p *ProxyPolicy) trusts(addr netip.Addr) bool {
	if p == nil {
		return false
	}
	for _, prefix := range p.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientAddr returns the client address for r. With a trusted peer it walks
// X-Forwarded-For from the right and returns the first hop that is not itself
// a trusted proxy, then falls back to X-Real-IP. An invalid address is
// returned with OriginUnknown when nothing usable is present.
func (p *ProxyPolicy) ClientAddr(r *http.Request) (netip.Addr, Origin) {
	peer, ok := peerAddr(r.RemoteAddr)
	if !ok {
		return netip.Addr{}, OriginUnknown
	}
	if !p.trusts(peer) {
		return peer, OriginPeer
	}

	if hops := forwardedHops(r.Header.Values("X-Forwarded-For")); len(hops) > 0 {
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(hops[i])
			if err != nil {
				// A malformed hop means the chain to the left cannot be trusted.
				break
			}
			hop = hop.Unmap()
			if !p.trusts(hop) {
				return hop, OriginForwarded
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if addr, err := netip.ParseAddr(xri); err == nil {
			return addr.Unmap(), OriginRealIP
		}
	}
	return peer, OriginPeer
}

func peerAddr(remote string) (netip.Addr, bool) {
	if remote == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr().Unmap(), true
	}
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func forwardedHops(values []string) []string {
	var hops []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				hops = append(hops, part)
			}
		}
	}
	return hops
}
