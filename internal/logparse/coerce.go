package logparse

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ISOLayout matches the millisecond precision UTC form used on the wire.
const ISOLayout = "2006-01-02T15:04:05.000Z07:00"

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1e12

var clfDatePattern = regexp.MustCompile(`^(\d{1,2}/[A-Za-z]{3}/\d{4}):(\d{2}:\d{2}:\d{2})(?:\s+([+-]\d{4}))?`)

var genericLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.RFC822Z,
	time.RFC822,
	time.UnixDate,
	time.ANSIC,
	"02/Jan/2006 15:04:05 -0700",
	"02/Jan/2006 15:04:05",
}

// FormatISO renders t in the canonical wire format.
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// ParseTime coerces an epoch number or a date string into a time. Epoch
// values up to 1e12 are seconds, larger values milliseconds.
func ParseTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return v, !v.IsZero()
	case float64:
		return fromEpoch(v)
	case float32:
		return fromEpoch(float64(v))
	case int:
		return fromEpoch(float64(v))
	case int64:
		return fromEpoch(float64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f)
	case string:
		return parseTimeString(v)
	default:
		return time.Time{}, false
	}
}

// ToISOTimestamp is ParseTime rendered in the canonical wire format.
func ToISOTimestamp(value any) (string, bool) {
	t, ok := ParseTime(value)
	if !ok {
		return "", false
	}
	return FormatISO(t), true
}

func fromEpoch(n float64) (time.Time, bool) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return time.Time{}, false
	}
	ms := n
	if math.Abs(n) <= epochMillisThreshold {
		ms = n * 1000
	}
	if math.Abs(ms) > 8.64e15 {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)).UTC(), true
}

func parseTimeString(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && isNumeric(s) {
		return fromEpoch(f)
	}
	if m := clfDatePattern.FindStringSubmatch(s); m != nil {
		normalized := m[1] + " " + m[2]
		if m[3] != "" {
			normalized += " " + m[3]
			if t, err := time.Parse("2/Jan/2006 15:04:05 -0700", normalized); err == nil {
				return t.UTC(), true
			}
		}
		if t, err := time.Parse("2/Jan/2006 15:04:05", normalized); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range genericLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && c != '.' && c != '-' {
			return false
		}
	}
	return true
}

// CoerceStatusCode accepts a number or numeric string and returns the
// truncated integer when it is a valid HTTP status (100-599).
func CoerceStatusCode(value any) *int {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	code := int(math.Trunc(f))
	if code < 100 || code > 599 {
		return nil
	}
	return &code
}
