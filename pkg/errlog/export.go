package errlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	ferrors "github.com/armorclaw/faultline/pkg/errors"
)

// ErrNoDatabase is returned by persisted-only operations on a memory-only log.
var ErrNoDatabase = errors.New("fault log has no database")

// Format names an export encoding
type Format string

const (
	FormatJSON   Format = "json"
	FormatNDJSON Format = "ndjson"
	FormatYAML   Format = "yaml"
	FormatText   Format = "text"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatNDJSON, FormatYAML, FormatText:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q (want json, ndjson, yaml or text)", s)
}

// Export renders the log in the given format. It reads the persisted log when
// one is available and the ring otherwise. Output is always sanitized.
func (l *Logger) Export(ctx context.Context, format Format, q Query) ([]byte, error) {
	var entries []*ferrors.ErrorContext
	if l.Persistent() {
		var err error
		entries, err = l.Persisted(ctx, q)
		if err != nil {
			return nil, err
		}
	} else {
		entries = l.History(q)
	}
	return Encode(entries, format, l.cfg.TrustedDev)
}

// Encode renders entries in the given format after sanitizing each one.
func Encode(entries []*ferrors.ErrorContext, format Format, trusted bool) ([]byte, error) {
	clean := make([]*ferrors.ErrorContext, len(entries))
	for i, c := range entries {
		clean[i] = ferrors.Sanitize(c, trusted)
	}

	switch format {
	case FormatJSON:
		if len(clean) == 0 {
			return []byte("[]\n"), nil
		}
		data, err := json.MarshalIndent(clean, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil

	case FormatNDJSON:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, c := range clean {
			if err := enc.Encode(c); err != nil {
				return nil, err
			}
		}
		return buf.Bytes(), nil

	case FormatYAML:
		// Go through JSON so YAML keys match the JSON field names.
		data, err := json.Marshal(clean)
		if err != nil {
			return nil, err
		}
		var generic []map[string]any
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, err
		}
		return yaml.Marshal(generic)

	case FormatText:
		var sb strings.Builder
		for _, c := range clean {
			sb.WriteString(c.FormatSummary())
			sb.WriteByte('\n')
		}
		return []byte(sb.String()), nil
	}
	return nil, fmt.Errorf("unknown export format %q", format)
}
