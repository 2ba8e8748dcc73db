package errors

import (
	"fmt"
	"regexp"
	"strings"
)

// SecretPattern defines a secret detection pattern
type SecretPattern struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

// Redacted replaces values whose key is on the denylist.
const Redacted = "[REDACTED]"

// DefaultDenylist lists key fragments whose details never leave the process.
// A key is denied when it contains an entry, ignoring case, '-' and '_', so
// "db_password" and "X-Auth-Token" are caught while "author" is not.
var DefaultDenylist = []string{
	"password", "passwd", "secret", "token", "apikey", "authorization", "authtoken",
	"cookie", "session", "credential", "privatekey",
}

// DefaultSecretPatterns returns the default value scrubbing patterns.
// Order matters: more specific patterns must come before generic ones
func DefaultSecretPatterns() []*SecretPattern {
	return []*SecretPattern{
		{
			Name:        "bearer_token",
			Pattern:     regexp.MustCompile(`(?i)Bearer\s+[a-zA-Z0-9._~+/=-]+`),
			Replacement: "Bearer [REDACTED_TOKEN]",
		},
		{
			Name:        "jwt",
			Pattern:     regexp.MustCompile(`\beyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
			Replacement: "[REDACTED_JWT]",
		},
		{
			Name:        "github_token",
			Pattern:     regexp.MustCompile(`\bghp_[a-zA-Z0-9]{36,}\b`),
			Replacement: "[REDACTED_GITHUB_TOKEN]",
		},
		{
			Name:        "aws_key_id",
			Pattern:     regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
			Replacement: "[REDACTED_AWS_KEY]",
		},
		{
			Name:        "api_key_sk",
			Pattern:     regexp.MustCompile(`\bsk_[a-zA-Z0-9_-]{20,}\b`),
			Replacement: "[REDACTED_API_KEY]",
		},
		{
			Name:        "credential_pair",
			Pattern:     regexp.MustCompile(`(?i)\b(password|passwd|secret|token|api[_-]?key|access[_-]?token)=([^\s&]+)`),
			Replacement: "$1=[REDACTED]",
		},
	}
}

// Sanitizer strips secrets and developer-only fields from contexts.
type Sanitizer struct {
	denylist []string
	patterns []*SecretPattern
}

// NewSanitizer builds a sanitizer. Extra keys extend DefaultDenylist.
func NewSanitizer(extraKeys ...string) *Sanitizer {
	s := &Sanitizer{patterns: DefaultSecretPatterns()}
	for _, k := range append(append([]string{}, DefaultDenylist...), extraKeys...) {
		if k = normalizeKey(k); k != "" {
			s.denylist = append(s.denylist, k)
		}
	}
	return s
}

var defaultSanitizer = NewSanitizer()

// Sanitize returns a sanitized copy of c using the default sanitizer.
func Sanitize(c *ErrorContext, trusted bool) *ErrorContext {
	return defaultSanitizer.Sanitize(c, trusted)
}

// Sanitize returns a copy of c with denylisted details removed, secrets scrubbed
// from string values and, unless trusted, developer fields dropped.
func (s *Sanitizer) Sanitize(c *ErrorContext, trusted bool) *ErrorContext {
	if c == nil {
		return nil
	}
	out := c.Clone()
	out.Callbacks = nil
	out.RawCause = nil
	out.Message = s.ScrubString(out.Message)
	if out.Details != nil {
		out.Details = s.scrubMap(out.Details)
	}
	if trusted {
		out.Cause = s.ScrubString(out.Cause)
		out.Stack = s.ScrubString(out.Stack)
	} else {
		out.Cause = ""
		out.Stack = ""
	}
	return out
}

// Denied reports whether key contains a denylisted fragment.
func (s *Sanitizer) Denied(key string) bool {
	key = normalizeKey(key)
	for _, frag := range s.denylist {
		if strings.Contains(key, frag) {
			return true
		}
	}
	return false
}

// ScrubString replaces secrets in text
func (s *Sanitizer) ScrubString(text string) string {
	if text == "" {
		return text
	}
	for _, p := range s.patterns {
		text = p.Pattern.ReplaceAllString(text, p.Replacement)
	}
	return text
}

func (s *Sanitizer) scrubMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s.Denied(k) {
			continue
		}
		out[k] = s.scrubValue(v)
	}
	return out
}

func (s *Sanitizer) scrubValue(v any) any {
	switch val := v.(type) {
	case string:
		return s.ScrubString(val)
	case map[string]any:
		return s.scrubMap(val)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, sv := range val {
			if !s.Denied(k) {
				m[k] = s.ScrubString(sv)
			}
		}
		return m
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = s.scrubValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = s.ScrubString(item)
		}
		return out
	case error:
		return s.ScrubString(safeErrorString(val))
	case fmt.Stringer:
		return s.ScrubString(val.String())
	default:
		return v
	}
}

func normalizeKey(k string) string {
	k = strings.ToLower(k)
	k = strings.ReplaceAll(k, "_", "")
	return strings.ReplaceAll(k, "-", "")
}
