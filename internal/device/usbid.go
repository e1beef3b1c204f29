package device

import (
	"strconv"
	"strings"
)

// NormalizeID converts a USB vendor or product identifier into its canonical
// integer form. Host platforms report the same physical identifier in
// incompatible encodings: udev gives unprefixed 4-digit hex, other sources
// give native integers, "0x"-prefixed hex, or decimal strings. Resolution
// order: native integer; "0x"-prefixed hex; bare 4-character hex (the
// Windows convention); decimal; bare hex as a last resort.
func NormalizeID(value any) (int64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint16:
		return int64(v), true
	case string:
		return normalizeIDString(v)
	default:
		return 0, false
	}
}

func normalizeIDString(value string) (int64, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return 0, false
	}
	if rest, ok := strings.CutPrefix(value, "0x"); ok {
		if parsed, err := strconv.ParseInt(rest, 16, 64); err == nil {
			return parsed, true
		}
	}
	if len(value) == 4 {
		if parsed, err := strconv.ParseInt(value, 16, 64); err == nil {
			return parsed, true
		}
	}
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
		return parsed, true
	}
	if parsed, err := strconv.ParseInt(value, 16, 64); err == nil {
		return parsed, true
	}
	return 0, false
}
