// Package secureclient implements the only path by which the core talks
// to other hosts (§4.5): URL/header validation, DNS-rebinding defense via
// resolve-once-then-pin dialing, and hard transfer limits.
//
// Grounded on rcourtman-Pulse's cmd/pulse-sensor-proxy/validation.go and
// config.go (their private/loopback/link-local address checks in
// detectHostCIDRs and their header/argument validation style), adapted
// from a node-name allowlist to a general-purpose outbound HTTP guard.
// DNS pinning uses github.com/rs/dnscache, which neither Pulse nor the
// teacher imports but which is the standard pure-Go way to resolve once
// and dial the resolved address while still presenting the original Host
// header — hand-rolling a resolver cache on top of net.Resolver would
// duplicate what the library already does correctly.
package secureclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/dnscache"

	"github.com/example/masterclaw/internal/errs"
	"github.com/example/masterclaw/internal/logging"
	"github.com/example/masterclaw/internal/safety"
)

const defaultMaxResponseBytes = 10 * 1024 * 1024

var headerNamePattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// Descriptor is one outbound request.
type Descriptor struct {
	Method          string
	URL             string
	Headers         map[string]string
	Body            []byte
	TimeoutMillis   int
	MaxResponseBytes int64
	AllowPrivateIPs bool
	CorrelationID   string
}

// Response is the result of a successful Request call.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Client is the secure HTTP client. A Client must be constructed with New.
type Client struct {
	resolver *dnscache.Resolver
	log      logging.Logger
}

// New constructs a Client with its own DNS cache.
func New(log logging.Logger) *Client {
	return &Client{resolver: &dnscache.Resolver{}, log: log}
}

// Request validates, resolves, and executes descriptor per the §4.5
// contract, returning a typed *errs.Error on any validation or transport
// failure.
func (c *Client) Request(ctx context.Context, d Descriptor) (*Response, error) {
	if d.MaxResponseBytes <= 0 {
		d.MaxResponseBytes = defaultMaxResponseBytes
	}
	parsed, err := validateURL(d.URL)
	if err != nil {
		return nil, err
	}
	if err := validateHeaders(d.Headers); err != nil {
		return nil, err
	}

	host := parsed.Hostname()
	resolvedIP, err := c.resolveAndGuard(ctx, host, d.AllowPrivateIPs)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(d.TimeoutMillis) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialAddr := net.JoinHostPort(resolvedIP, portOf(parsed))
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: timeout}
			return dialer.DialContext(ctx, network, dialAddr)
		},
	}
	client := &http.Client{Transport: transport, Timeout: timeout}

	var bodyReader io.Reader
	if len(d.Body) > 0 {
		bodyReader = bytes.NewReader(d.Body)
	}
	req, err := http.NewRequestWithContext(reqCtx, methodOrDefault(d.Method), parsed.String(), bodyReader)
	if err != nil {
		return nil, errs.Wrap(errs.KindDependency, errs.CodeGeneric, "build request", err)
	}
	req.Host = host // defeat DNS flips: present the original name, dial the pinned IP
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, d.MaxResponseBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, errs.Wrap(errs.KindDependency, errs.CodeGeneric, "read response body", err)
	}
	if int64(len(body)) > d.MaxResponseBytes {
		return nil, errs.New(errs.KindSecurity, errs.CodeResponseTooLarge,
			fmt.Sprintf("response exceeded %d bytes", d.MaxResponseBytes))
	}

	c.logResult(d, resp.StatusCode)
	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

func (c *Client) logResult(d Descriptor, status int) {
	if c.log == nil {
		return
	}
	c.log.Debug("secureclient request complete", map[string]any{
		"correlationID": d.CorrelationID,
		"status":        status,
	})
}

func methodOrDefault(m string) string {
	if m == "" {
		return http.MethodGet
	}
	return m
}

func portOf(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	if u.Scheme == "https" {
		return "443"
	}
	return "80"
}

func validateURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, errs.CodeUsage, "invalid URL", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errs.New(errs.KindSecurity, errs.CodeSSRFViolation, "scheme must be http or https")
	}
	host := parsed.Hostname()
	if host == "" {
		return nil, errs.New(errs.KindValidation, errs.CodeUsage, "URL must have a host")
	}
	if isSuspiciousLiteral(host) {
		return nil, errs.New(errs.KindSecurity, errs.CodeSSRFViolation, "suspicious address literal")
	}
	return parsed, nil
}

// isSuspiciousLiteral rejects address forms used to smuggle loopback or
// unspecified addresses past naive string checks (IPv4-mapped IPv6
// loopback, unspecified address).
func isSuspiciousLiteral(host string) bool {
	lower := strings.ToLower(host)
	if lower == "0.0.0.0" || lower == "::" || strings.Contains(lower, "::ffff:") {
		return true
	}
	return false
}

func validateHeaders(headers map[string]string) error {
	for name, value := range headers {
		if !headerNamePattern.MatchString(name) {
			return errs.New(errs.KindSecurity, errs.CodeHeaderInjection, fmt.Sprintf("invalid header name %q", safety.SanitizeForLog(name)))
		}
		if strings.ContainsAny(value, "\r\n") {
			return errs.New(errs.KindSecurity, errs.CodeHeaderInjection, fmt.Sprintf("CR/LF in header %q", safety.SanitizeForLog(name)))
		}
	}
	return nil
}

// resolveAndGuard resolves host once via the DNS cache and rejects any
// resolved address in a private/loopback/link-local range unless
// allowPrivateIPs is set, returning the address to pin the dial to.
func (c *Client) resolveAndGuard(ctx context.Context, host string, allowPrivateIPs bool) (string, error) {
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		if !allowPrivateIPs && isPrivateOrLoopback(ip) {
			return "", errs.New(errs.KindSecurity, errs.CodeSSRFViolation, "address literal resolves to a private/loopback range")
		}
		return ip.String(), nil
	}
	ips, err := c.resolver.LookupHost(ctx, host)
	if err != nil {
		return "", errs.Wrap(errs.KindDependency, errs.CodeDNSFailure, "dns lookup failed", err)
	}
	if len(ips) == 0 {
		return "", errs.New(errs.KindDependency, errs.CodeDNSFailure, "dns lookup returned no addresses")
	}
	for _, raw := range ips {
		ip := net.ParseIP(raw)
		if ip == nil {
			continue
		}
		if !allowPrivateIPs && isPrivateOrLoopback(ip) {
			return "", errs.New(errs.KindSecurity, errs.CodeSSRFViolation, "resolved address is in a private/loopback/link-local range")
		}
	}
	return ips[0], nil
}

func isPrivateOrLoopback(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

func classifyTransportError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return errs.Wrap(errs.KindDependency, errs.CodeTimeout, "request timed out", err)
	case strings.Contains(msg, "connection refused"):
		return errs.Wrap(errs.KindDependency, errs.CodeConnectRefused, "connection refused", err)
	case strings.Contains(msg, "x509") || strings.Contains(msg, "tls") || strings.Contains(msg, "certificate"):
		return errs.Wrap(errs.KindDependency, errs.CodeTLSFailure, "tls handshake failed", err)
	default:
		return errs.Wrap(errs.KindDependency, errs.CodeConnectRefused, "request failed", err)
	}
}
