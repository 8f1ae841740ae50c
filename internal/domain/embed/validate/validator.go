package validate

import (
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// Reason is the machine-readable rejection code attached to a Result.
type Reason string

const (
	ReasonMalformedURL    Reason = "MALFORMED_URL"
	ReasonInvalidProtocol Reason = "INVALID_PROTOCOL"
	ReasonPrivateNetwork  Reason = "PRIVATE_NETWORK"
	ReasonRawIPAddress    Reason = "RAW_IP_ADDRESS"
	ReasonMaliciousTLD    Reason = "MALICIOUS_TLD"
	ReasonBlockedPattern  Reason = "BLOCKED_PATTERN"
)

// Result is the outcome of a single validation call.
type Result struct {
	Allowed bool
	Reason  Reason
	Message string
	URL     *url.URL
}

// HTTPStatus maps a rejection to its transport status. Malformed input and bad
// protocols are client mistakes (400); the remaining reasons are refusals (403).
func (r Result) HTTPStatus() int {
	if r.Allowed {
		return http.StatusOK
	}
	switch r.Reason {
	case ReasonMalformedURL, ReasonInvalidProtocol:
		return http.StatusBadRequest
	default:
		return http.StatusForbidden
	}
}

// SecuritySensitive reports whether the rejection indicates probing rather
// than a client mistake, for log severity and intrusion monitoring.
func (r Result) SecuritySensitive() bool {
	switch r.Reason {
	case ReasonPrivateNetwork, ReasonRawIPAddress, ReasonMaliciousTLD, ReasonBlockedPattern:
		return true
	}
	return false
}

// PatternSource supplies the operator-extensible blocked pattern list.
type PatternSource interface {
	Patterns() []*regexp.Regexp
}

// staticPatterns adapts a fixed slice to PatternSource.
type staticPatterns []*regexp.Regexp

func (p staticPatterns) Patterns() []*regexp.Regexp { return p }

// Validator classifies candidate embed URLs. It performs no I/O and is safe
// for concurrent use.
type Validator struct {
	patterns PatternSource
}

// New creates a validator backed by the given pattern source. A nil source
// means no blocked patterns.
func New(patterns PatternSource) *Validator {
	if patterns == nil {
		patterns = staticPatterns(nil)
	}
	return &Validator{patterns: patterns}
}

// NewStatic creates a validator with a fixed pattern list.
func NewStatic(patterns []*regexp.Regexp) *Validator {
	return New(staticPatterns(patterns))
}

// hostnames rejected outright before any numeric range check.
var blockedHostnames = map[string]struct{}{
	"localhost": {},
	"0.0.0.0":   {},
	"::1":       {},
}

// Validate classifies rawURL. The caller is expected to have URL-decoded the
// input already; an undecodable parameter maps to MALFORMED_URL upstream.
// Checks run in a fixed order and the first failing check wins.
func (v *Validator) Validate(rawURL string) Result {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" {
		return rejected(ReasonMalformedURL, "URL could not be parsed as an absolute URL")
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return rejected(ReasonInvalidProtocol, "only http and https URLs are allowed")
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return rejected(ReasonMalformedURL, "URL has no hostname")
	}

	if _, ok := blockedHostnames[hostname]; ok {
		return rejected(ReasonPrivateNetwork, "target resolves to a private or internal network address")
	}

	if ip := net.ParseIP(hostname); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return rejected(ReasonPrivateNetwork, "target resolves to a private or internal network address")
		}
		return rejected(ReasonRawIPAddress, "raw IP addresses are not allowed as embed targets")
	}

	if strings.HasSuffix(hostname, ".onion") || !strings.Contains(hostname, ".") {
		return rejected(ReasonMaliciousTLD, "target hostname has a disallowed or missing TLD")
	}

	for _, pattern := range v.patterns.Patterns() {
		if pattern == nil {
			continue
		}
		if pattern.MatchString(hostname) || pattern.MatchString(rawURL) {
			return rejected(ReasonBlockedPattern, "target matches a blocked pattern")
		}
	}

	return Result{Allowed: true, URL: u}
}

func rejected(reason Reason, message string) Result {
	return Result{
		Allowed: false,
		Reason:  reason,
		Message: message,
	}
}
