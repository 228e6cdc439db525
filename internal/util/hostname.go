package util

import (
	"fmt"
	"strings"
)

// NormalizeHostname turns user input into the bare hostname cloudflared
// expects for DNS routes and ingress rules.
//
// Users routinely paste full URLs, so the scheme, any path, a trailing dot
// and surrounding whitespace are stripped and the result is lower-cased.
// Empty input stays empty: a project without a domain is valid.
//
// Examples:
//
//	NormalizeHostname("https://API.example.com/") → "api.example.com"
//	NormalizeHostname(" api.example.com. ")       → "api.example.com"
//	NormalizeHostname("")                         → ""
func NormalizeHostname(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSuffix(s, ".")
}

// ValidateHostname checks a normalized hostname against RFC 1123 label
// rules. At least two labels are required since a bare label cannot be
// routed through a DNS zone.
func ValidateHostname(host string) error {
	if host == "" {
		return fmt.Errorf("hostname cannot be empty")
	}
	if len(host) > 253 {
		return fmt.Errorf("hostname %q is longer than 253 characters", host)
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return fmt.Errorf("hostname %q must include a domain (e.g. app.example.com)", host)
	}
	for _, l := range labels {
		if l == "" || len(l) > 63 {
			return fmt.Errorf("hostname %q has an invalid label", host)
		}
		if l[0] == '-' || l[len(l)-1] == '-' {
			return fmt.Errorf("hostname %q has a label starting or ending with '-'", host)
		}
		for _, c := range l {
			if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-') {
				return fmt.Errorf("hostname %q contains invalid character %q", host, c)
			}
		}
	}
	return nil
}
