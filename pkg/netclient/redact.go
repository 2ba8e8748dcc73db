package netclient

import (
	"net/http"
	"net/url"
	"sort"
	"strings"

	ferrors "github.com/armorclaw/faultline/pkg/errors"
)

// sensitiveHeaders are always redacted in request and response logs.
var sensitiveHeaders = map[string]bool{
	"Authorization":       true,
	"Proxy-Authorization": true,
	"Cookie":              true,
	"Set-Cookie":          true,
	"X-Api-Key":           true,
	"X-Auth-Token":        true,
	"X-Csrf-Token":        true,
}

var redactor = ferrors.NewSanitizer()

// RedactHeaders returns a loggable copy of h with credentials replaced
func RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		canonical := http.CanonicalHeaderKey(name)
		if sensitiveHeaders[canonical] || redactor.Denied(canonical) {
			out[canonical] = ferrors.Redacted
			continue
		}
		out[canonical] = redactor.ScrubString(strings.Join(values, ", "))
	}
	return out
}

// RedactURL renders u with userinfo dropped and sensitive query values replaced
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	clean := *u
	clean.User = nil

	q := clean.Query()
	if len(q) > 0 {
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte('&')
			}
			for j, v := range q[k] {
				if j > 0 {
					sb.WriteByte('&')
				}
				sb.WriteString(url.QueryEscape(k))
				sb.WriteByte('=')
				if redactor.Denied(k) {
					sb.WriteString(ferrors.Redacted)
				} else {
					sb.WriteString(url.QueryEscape(v))
				}
			}
		}
		clean.RawQuery = sb.String()
	}
	return clean.String()
}
