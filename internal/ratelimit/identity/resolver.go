// Package identity derives the opaque caller identifier every gate accounts
// against. Identifiers are keyed hashes, so the client address cannot be
// recovered from stored keys or audit records.
package identity

import (
	"encoding/hex"
	"errors"
	"net/http"
	"net/netip"
	"strings"

	"github.com/mssola/useragent"
	"golang.org/x/crypto/blake2b"

	"chatguard/internal/ratelimit/models"
	"chatguard/pkg/platform/middleware/metadata"
)

const (
	identifierPrefix = "id_"
	// identifierBytes of hash output are kept; 128 bits is ample for accounting.
	identifierBytes = 16
	minSaltLength   = 16
	// ipv6Prefix groups an IPv6 caller by its /64, the smallest block an ISP
	// normally hands out.
	ipv6Prefix     = 64
	botFingerprint = "bot"
)

// Identity is the resolved caller.
type Identity struct {
	Identifier string
	// ClientIP is the address the identifier was derived from. Empty when Shared.
	ClientIP string
	Source   metadata.Origin
	// Shared is set when no address could be determined and the caller was
	// folded into the shared high-risk identity.
	Shared bool
}

type Resolver struct {
	proxies     *metadata.ProxyPolicy
	key         []byte
	fingerprint bool
}

type Option func(*Resolver)

// WithTrustedProxies sets the peers whose forwarding headers are believed.
func WithTrustedProxies(trusted []netip.Prefix) Option {
	return func(r *Resolver) {
		r.proxies = metadata.NewProxyPolicy(trusted)
	}
}

// WithFingerprint mixes a coarse User-Agent fingerprint into the identifier
// so callers behind one NAT address are told apart.
func WithFingerprint(enabled bool) Option {
	return func(r *Resolver) {
		r.fingerprint = enabled
	}
}

// NewResolver keys the identifier hash with salt.
func NewResolver(salt string, opts ...Option) (*Resolver, error) {
	if len(salt) < minSaltLength {
		return nil, errors.New("identifier salt must be at least 16 characters")
	}
	key := []byte(salt)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	r := &Resolver{
		proxies: metadata.NewProxyPolicy(nil),
		key:     key,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve derives the caller identity for req.
func (r *Resolver) Resolve(req *http.Request) Identity {
	addr, origin := r.proxies.ClientAddr(req)
	if origin == metadata.OriginUnknown {
		return Identity{Identifier: models.SharedIdentifier, Source: origin, Shared: true}
	}

	fp := ""
	if r.fingerprint {
		fp = Fingerprint(req.Header.Get("User-Agent"))
	}
	return Identity{
		Identifier: r.identifierFor(addr, fp),
		ClientIP:   addr.String(),
		Source:     origin,
	}
}

func (r *Resolver) identifierFor(addr netip.Addr, fingerprint string) string {
	if addr.Is6() {
		if prefix, err := addr.Prefix(ipv6Prefix); err == nil {
			addr = prefix.Addr()
		}
	}
	// blake2b.New only fails for keys over 64 bytes, which NewResolver rules out.
	h, _ := blake2b.New(identifierBytes, r.key)
	h.Write(addr.AsSlice())
	if fingerprint != "" {
		h.Write([]byte{0})
		h.Write([]byte(fingerprint))
	}
	return identifierPrefix + hex.EncodeToString(h.Sum(nil))
}

// Fingerprint reduces a User-Agent to browser family, major version and OS.
// Minor version churn from auto-updates does not change it. Every bot shares
// one fingerprint, since a client-chosen bot name would otherwise mint a new
// identifier per request.
func Fingerprint(userAgent string) string {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return ""
	}
	ua := useragent.New(userAgent)
	if ua.Bot() {
		return botFingerprint
	}
	name, version := ua.Browser()
	major, _, _ := strings.Cut(version, ".")
	return strings.ToLower(name) + "/" + major + "/" + strings.ToLower(ua.OS())
}
