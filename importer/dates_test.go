package importer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func TestParseDateFormats(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"dash MDY", "04-15-2024", date(2024, time.April, 15)},
		{"dash MDY single digits", "4-5-2024", date(2024, time.April, 5)},
		{"dash DMY day first heuristic", "15-04-2024", date(2024, time.April, 15)},
		{"slash YMD", "2024/4/15", date(2024, time.April, 15)},
		{"slash MDYY", "4/15/24", date(2024, time.April, 15)},
		{"slash MDY", "4/15/2024", date(2024, time.April, 15)},
		{"dash YMD", "2024-4-15", date(2024, time.April, 15)},
		{"iso date", "2024-04-15", date(2024, time.April, 15)},
		{"rfc3339 keeps date only", "2024-04-15T13:45:00Z", date(2024, time.April, 15)},
		{"iso without zone", "2024-04-15T13:45:00", date(2024, time.April, 15)},
		{"long form", "Apr 15, 2024", date(2024, time.April, 15)},
		{"padded", "  4/15/2024  ", date(2024, time.April, 15)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDate(tt.in)
			require.NotNil(t, got, "expected %q to parse", tt.in)
			assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
		})
	}
}

func TestParseDateInvalid(t *testing.T) {
	for _, in := range []string{"", "not a date", "13-32-2024", "02-30-2024", "2024/13/01", "0/0/0"} {
		assert.Nil(t, ParseDate(in), "expected %q to be rejected", in)
	}
	assert.Nil(t, ParseDate(nil))
	assert.Nil(t, ParseDate(time.Time{}))
}

func TestParseDateNonStringInputs(t *testing.T) {
	ts := time.Date(2024, time.April, 15, 18, 30, 0, 0, time.UTC)

	got := ParseDate(ts)
	require.NotNil(t, got)
	assert.True(t, got.Equal(date(2024, time.April, 15)), "time-of-day should be discarded")

	got = ParseDate(primitive.NewDateTimeFromTime(ts))
	require.NotNil(t, got)
	assert.True(t, got.Equal(date(2024, time.April, 15)))

	got = ParseDate(&ts)
	require.NotNil(t, got)
	assert.True(t, got.Equal(date(2024, time.April, 15)))
}

func TestFormatShippingMode(t *testing.T) {
	assert.Equal(t, ModeAir, FormatShippingMode("air"))
	assert.Equal(t, ModeAir, FormatShippingMode(" AIR "))
	assert.Equal(t, ModeSea, FormatShippingMode("sea"))
	assert.Equal(t, ModeSea, FormatShippingMode("BOAT"))
	assert.Equal(t, ModeGround, FormatShippingMode("Ground"))
	assert.Equal(t, "Courier", FormatShippingMode("Courier"))
	assert.Equal(t, "", FormatShippingMode("   "))
}

func TestComputeEta(t *testing.T) {
	ship := date(2024, time.April, 1)

	tests := []struct {
		mode string
		want time.Time
	}{
		{"Air", date(2024, time.April, 15)},
		{"Sea", date(2024, time.May, 6)},
		{"boat", date(2024, time.May, 6)},
		{"Ground", date(2024, time.April, 4)},
	}
	for _, tt := range tests {
		got := ComputeEta(&ship, tt.mode)
		require.NotNil(t, got, "mode %s", tt.mode)
		assert.True(t, got.Equal(tt.want), "mode %s: got %v want %v", tt.mode, got, tt.want)
	}

	assert.Nil(t, ComputeEta(nil, "Air"))
	assert.Nil(t, ComputeEta(&ship, ""))
	assert.Nil(t, ComputeEta(&ship, "Carrier Pigeon"))
}

func TestModeCompatible(t *testing.T) {
	assert.True(t, modeCompatible("Air", "air"))
	assert.True(t, modeCompatible("", "Air"))
	assert.True(t, modeCompatible("Sea", ""))
	assert.False(t, modeCompatible("Sea", "Air"))
}
