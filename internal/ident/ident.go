// Package ident holds the comparison keys used by every matching decision:
// project slugs, canonical repository names and normalized hostnames. All
// functions are total and return "" for input that carries no identity.
package ident

import (
	"net"
	"strings"
)

// NormalizeSlug lowercases s, collapses runs of characters outside [a-z0-9]
// into a single hyphen and trims leading and trailing hyphens.
func NormalizeSlug(s string) string {
	lower := strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(lower))
	pending := false
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if isAlnum(c) {
			if pending && b.Len() > 0 {
				b.WriteByte('-')
			}
			pending = false
			b.WriteByte(c)
			continue
		}
		pending = true
	}
	return b.String()
}

// CanonicalRepoName reduces a repository reference (URL, owner/repo or bare
// name) to its lowercase alphanumeric repository name.
func CanonicalRepoName(s string) string {
	value := strings.ToLower(strings.TrimSpace(s))
	value = strings.TrimSuffix(value, ".git")
	segment := ""
	for _, part := range strings.Split(value, "/") {
		if part != "" {
			segment = part
		}
	}
	return stripNonAlnum(segment)
}

// CanonicalText lowercases s and drops every character outside [a-z0-9].
func CanonicalText(s string) string {
	return stripNonAlnum(strings.ToLower(s))
}

// NormalizeHost lowercases s and strips the scheme, any path and a trailing port.
func NormalizeHost(s string) string {
	value := strings.ToLower(strings.TrimSpace(s))
	value = strings.TrimPrefix(value, "https://")
	value = strings.TrimPrefix(value, "http://")
	if idx := strings.IndexAny(value, "/?#"); idx >= 0 {
		value = value[:idx]
	}
	if strings.HasPrefix(value, "[") {
		if end := strings.Index(value, "]"); end > 0 {
			return value[1:end]
		}
		return ""
	}
	if idx := strings.LastIndexByte(value, ':'); idx >= 0 && allDigits(value[idx+1:]) {
		value = value[:idx]
	}
	if strings.ContainsAny(value, " \t\"'") {
		return ""
	}
	return value
}

// LooksLikeHost reports whether a raw log field plausibly carries a hostname:
// a bare token containing a dot, localhost, or a dotted-quad IPv4 address.
// Tokens with whitespace or a slash (URLs, user agents) are rejected.
func LooksLikeHost(s string) bool {
	value := strings.TrimSpace(s)
	if value == "" || value == "-" || strings.ContainsAny(value, " \t/()") {
		return false
	}
	lower := strings.ToLower(value)
	if lower == "localhost" || strings.HasPrefix(lower, "localhost:") {
		return true
	}
	if ip := net.ParseIP(NormalizeHost(lower)); ip != nil && ip.To4() != nil {
		return true
	}
	return strings.Contains(lower, ".")
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

func stripNonAlnum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if isAlnum(s[i]) {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
