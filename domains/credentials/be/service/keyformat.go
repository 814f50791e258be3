package service

import (
	"fmt"
	"strings"
)

// KeyFormat is the shape check applied to every key a strategy returns.
type KeyFormat struct {
	Prefix string
	MinLen int
	MaxLen int
}

// DefaultKeyFormat matches Google browser API keys (39 characters, "AIza" prefix) with some slack.
func DefaultKeyFormat() KeyFormat {
	return KeyFormat{Prefix: "AIza", MinLen: 35, MaxLen: 45}
}

var (
	placeholderMarkers = []string{"your-api-key", "your_api_key", "placeholder", "changeme", "example", "xxxxx"}
	placeholderValues  = []string{"undefined", "null", "none", "todo", "tbd"}
)

// Validate returns an error wrapping ErrInvalidKeyFormat when key cannot be a real key.
func (f KeyFormat) Validate(key string) error {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKeyFormat)
	}
	if trimmed != key {
		return fmt.Errorf("%w: surrounding whitespace", ErrInvalidKeyFormat)
	}

	lower := strings.ToLower(key)
	if strings.HasPrefix(lower, "<") || strings.HasPrefix(lower, "${") {
		return fmt.Errorf("%w: template placeholder", ErrInvalidKeyFormat)
	}
	for _, v := range placeholderValues {
		if lower == v {
			return fmt.Errorf("%w: placeholder value", ErrInvalidKeyFormat)
		}
	}
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: placeholder value", ErrInvalidKeyFormat)
		}
	}

	if f.Prefix != "" && !strings.HasPrefix(key, f.Prefix) {
		return fmt.Errorf("%w: missing %q prefix", ErrInvalidKeyFormat, f.Prefix)
	}
	if f.MinLen > 0 && len(key) < f.MinLen {
		return fmt.Errorf("%w: length %d below %d", ErrInvalidKeyFormat, len(key), f.MinLen)
	}
	if f.MaxLen > 0 && len(key) > f.MaxLen {
		return fmt.Errorf("%w: length %d above %d", ErrInvalidKeyFormat, len(key), f.MaxLen)
	}
	return nil
}
