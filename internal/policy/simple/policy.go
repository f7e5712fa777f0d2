// Package simple contains the homepage fetch policy.
package simple

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
)

// ErrNonPublicAddress is returned when a dial targets a non-public address.
var ErrNonPublicAddress = errors.New("non-public address")

// Policy admits absolute http(s) URLs on public hosts. Website fields come
// from a third party, so loopback, private and link-local targets are refused.
type Policy struct {
	allowPrivate bool
}

// New creates a Policy that refuses non-public hosts.
func New() *Policy {
	return &Policy{}
}

// NewPermissive creates a Policy that only checks the URL shape.
func NewPermissive() *Policy {
	return &Policy{allowPrivate: true}
}

// AllowFetch reports whether rawURL may be fetched.
func (p Policy) AllowFetch(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return false
	}
	if p.allowPrivate {
		return true
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return true
	}
	return isPublic(addr)
}

// DialControl is a net.Dialer Control hook. It checks the resolved address,
// so hostnames pointing at private ranges are refused as well.
func (p Policy) DialControl(_, address string, _ syscall.RawConn) error {
	if p.allowPrivate {
		return nil
	}
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("parse dial address %q: %w", address, err)
	}
	if !isPublic(ap.Addr()) {
		return fmt.Errorf("dial %s: %w", address, ErrNonPublicAddress)
	}
	return nil
}

func isPublic(addr netip.Addr) bool {
	addr = addr.Unmap()
	return !(addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified() || addr.IsMulticast())
}
