package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration parses a config duration string ("500ms", "5s"). Empty means
// unset and yields zero. The path names the field in error messages.
func Duration(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: bad duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// DurationOr is Duration with a fallback for unset or zero fields.
func DurationOr(path, raw string, fallback time.Duration) (time.Duration, error) {
	d, err := Duration(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		d = fallback
	}
	return d, nil
}
