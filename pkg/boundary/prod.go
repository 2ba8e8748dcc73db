//go:build !faultdev

package boundary

import ferrors "github.com/armorclaw/faultline/pkg/errors"

// DevMode reports whether developer details are compiled in
const DevMode = false

func devDetails(*ferrors.ErrorContext) string { return "" }
