// Package security screens subscriber endpoint URLs so the delivery
// workers cannot be pointed at internal infrastructure (SSRF).
package security

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

var (
	ErrInvalidURL       = errors.New("invalid URL")
	ErrInvalidScheme    = errors.New("URL must use http or https scheme")
	ErrPrivateIP        = errors.New("URL points to a private IP address")
	ErrLoopbackIP       = errors.New("URL points to a loopback address")
	ErrLinkLocalIP      = errors.New("URL points to a link-local address")
	ErrMetadataEndpoint = errors.New("URL points to a cloud metadata endpoint")
	ErrBlockedPort      = errors.New("URL uses a blocked port")
)

// blockedHosts are hostnames delivery must never reach regardless of
// what they resolve to.
var blockedHosts = map[string]bool{
	"metadata.google.internal": true,
	"metadata.goog":            true,
	"kubernetes.default.svc":   true,
	"kubernetes.default":       true,
	"localhost":                true,
	"localhost.localdomain":    true,
}

// blockedPorts are ports of common internal services.
var blockedPorts = map[string]bool{
	"22":    true, // SSH
	"25":    true, // SMTP
	"2379":  true, // etcd
	"3306":  true, // MySQL
	"5432":  true, // PostgreSQL
	"6379":  true, // Redis
	"8500":  true, // Consul
	"9200":  true, // Elasticsearch
	"11211": true, // Memcached
	"27017": true, // MongoDB
}

// ValidateEndpointURL checks that a webhook/fallback endpoint is safe to
// deliver to. allowPrivate relaxes the private/loopback checks for dev
// and self-hosted deployments that push to services on the same network;
// metadata endpoints stay blocked even then.
func ValidateEndpointURL(rawURL string, allowPrivate bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrInvalidScheme
	}
	if u.User != nil {
		// Userinfo is a classic host-confusion bypass.
		return ErrInvalidURL
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return ErrInvalidURL
	}
	if blockedHosts[hostname] {
		if hostname == "localhost" || hostname == "localhost.localdomain" {
			if allowPrivate {
				return checkPort(u)
			}
			return ErrLoopbackIP
		}
		return ErrMetadataEndpoint
	}

	if err := checkPort(u); err != nil {
		return err
	}

	// A literal IP gets validated directly; hostnames are resolved and
	// re-checked per-connection by the dialer, so a resolution failure
	// here is not fatal.
	if ip := net.ParseIP(hostname); ip != nil {
		return ValidateIP(ip, allowPrivate)
	}
	if ips, err := net.LookupIP(hostname); err == nil {
		for _, ip := range ips {
			if err := ValidateIP(ip, allowPrivate); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkPort(u *url.URL) error {
	if port := u.Port(); port != "" && blockedPorts[port] {
		return ErrBlockedPort
	}
	return nil
}

// ValidateIP checks a single resolved address. Called at validation time
// and again by the delivery dialer on every connection so DNS rebinding
// cannot sidestep the screen.
func ValidateIP(ip net.IP, allowPrivate bool) error {
	// Metadata services are blocked before the private-range allowance.
	if ip.Equal(net.ParseIP("169.254.169.254")) || ip.Equal(net.ParseIP("100.100.100.200")) {
		return ErrMetadataEndpoint
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return ErrLinkLocalIP
	}
	if allowPrivate {
		return nil
	}
	if ip.IsLoopback() {
		return ErrLoopbackIP
	}
	if ip.IsPrivate() || ip.IsUnspecified() {
		return ErrPrivateIP
	}
	return nil
}
