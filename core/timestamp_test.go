package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp_Precedence(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  interface{}
		want time.Time
	}{
		{"digit string is unix seconds", "1709294400", want},
		{"ISO with Z", "2024-03-01T12:00:00Z", want},
		{"ISO with lowercase z", "2024-03-01T12:00:00z", want},
		{"ISO with +00:00", "2024-03-01T12:00:00+00:00", want},
		{"ISO with offset", "2024-03-01T14:00:00+02:00", want},
		{"naive ISO is UTC", "2024-03-01T12:00:00", want},
		{"space separated", "2024-03-01 12:00:00", want},
		{"int", 1709294400, want},
		{"int64", int64(1709294400), want},
		{"float64", float64(1709294400), want},
		{"json.Number", json.Number("1709294400"), want},
		{"fractional seconds", 1709294400.5, want.Add(500 * time.Millisecond)},
		{"time.Time passthrough", want.In(time.FixedZone("X", 3600)), want},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.raw)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseTimestamp_Unparseable(t *testing.T) {
	for _, raw := range []interface{}{
		nil, "", "yesterday", "2024-13-45", true, []string{"x"},
		// millisecond epochs read as seconds land past year 9999
		"1709287200000", int64(1709287200000), json.Number("1709287200000"), 1709287200000.5,
		time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC),
		int64(-62167219201),
	} {
		_, err := ParseTimestamp(raw)
		assert.True(t, errors.Is(err, ErrUnparseableTimestamp), "raw %v", raw)
	}
}

func TestTimestamp_RoundTrip(t *testing.T) {
	inputs := []interface{}{
		"2024-03-01T12:00:00.123456789Z",
		"2023-12-31T23:59:59+05:30",
		"1700000000",
		1700000000.25,
		time.Date(1999, 12, 31, 23, 59, 59, 1, time.UTC),
		"253402300799",
		time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	for _, raw := range inputs {
		first, err := ParseTimestamp(raw)
		require.NoError(t, err)

		second, err := ParseTimestamp(FormatTimestamp(first))
		require.NoError(t, err)

		assert.True(t, first.Equal(second), "round trip changed %v: %s != %s", raw, first, second)
	}
}
