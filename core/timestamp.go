package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrUnparseableTimestamp is returned when a raw timestamp matches no accepted form
var ErrUnparseableTimestamp = errors.New("unparseable timestamp")

// isoLayouts are tried in order for non-numeric timestamp strings.
// Layouts without a zone are interpreted as UTC.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp converts a raw timestamp into a UTC instant.
//
// Precedence:
//  1. all-digit string: unix seconds
//  2. other string: ISO-8601 ("Z" and "+00:00" are equivalent)
//  3. number: unix seconds, fractional part kept as nanoseconds
//  4. time.Time: passed through, normalized to UTC
//
// Instants outside years 0-9999 are rejected: they cannot be rendered as
// ISO-8601 and would not survive a round trip.
func ParseTimestamp(raw interface{}) (time.Time, error) {
	t, err := parseTimestamp(raw)
	if err != nil {
		return time.Time{}, err
	}
	if y := t.Year(); y < minTimestampYear || y > maxTimestampYear {
		return time.Time{}, fmt.Errorf("%w: year %d out of range", ErrUnparseableTimestamp, y)
	}
	return t, nil
}

// Year bounds representable in ISO-8601 / RFC 3339
const (
	minTimestampYear = 0
	maxTimestampYear = 9999
)

func parseTimestamp(raw interface{}) (time.Time, error) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("%w: missing", ErrUnparseableTimestamp)
	case time.Time:
		return v.UTC(), nil
	case *time.Time:
		if v == nil {
			return time.Time{}, fmt.Errorf("%w: missing", ErrUnparseableTimestamp)
		}
		return v.UTC(), nil
	case string:
		return parseTimestampString(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return time.Unix(i, 0).UTC(), nil
		}
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableTimestamp, v.String())
		}
		return unixFloat(f)
	case int:
		return time.Unix(int64(v), 0).UTC(), nil
	case int32:
		return time.Unix(int64(v), 0).UTC(), nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case uint32:
		return time.Unix(int64(v), 0).UTC(), nil
	case uint64:
		if v > math.MaxInt64 {
			return time.Time{}, fmt.Errorf("%w: %d out of range", ErrUnparseableTimestamp, v)
		}
		return time.Unix(int64(v), 0).UTC(), nil
	case float32:
		return unixFloat(float64(v))
	case float64:
		return unixFloat(v)
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrUnparseableTimestamp, raw)
	}
}

// parseTimestampString applies the digit-first precedence to a string timestamp
func parseTimestampString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", ErrUnparseableTimestamp)
	}

	if isAllDigits(s) {
		secs, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableTimestamp, s)
		}
		return time.Unix(secs, 0).UTC(), nil
	}

	if strings.HasSuffix(s, "z") {
		s = strings.TrimSuffix(s, "z") + "Z"
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableTimestamp, s)
}

// unixFloat converts fractional unix seconds to a UTC instant
func unixFloat(f float64) (time.Time, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return time.Time{}, fmt.Errorf("%w: %v out of range", ErrUnparseableTimestamp, f)
	}
	secs, frac := math.Modf(f)
	return time.Unix(int64(secs), int64(math.Round(frac*1e9))).UTC(), nil
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FormatTimestamp renders an instant as ISO-8601 in UTC with full precision.
// ParseTimestamp(FormatTimestamp(t)) always yields the same instant.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
