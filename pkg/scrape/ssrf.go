package scrape

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Errors returned by URL validation.
var (
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	ErrPrivateAddress    = errors.New("url resolves to a private or reserved address")
)

// ValidateURL rejects URLs that must never be fetched: non-http(s) schemes
// and hosts that resolve to loopback, private, link-local, or otherwise
// reserved addresses.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("url has no host")
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
	}

	// A literal IP is checked directly; a hostname is resolved and every
	// address must be public (DNS rebinding to a single private A record
	// is rejected).
	if ip := net.ParseIP(host); ip != nil {
		if isDisallowedIP(ip) {
			return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
		}
		return nil
	}

	addrs, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	for _, ip := range addrs {
		if isDisallowedIP(ip) {
			return fmt.Errorf("%w: %s (%s)", ErrPrivateAddress, host, ip)
		}
	}
	return nil
}

func isDisallowedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified()
}
