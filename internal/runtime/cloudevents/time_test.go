package cloudevents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2025-03-14T09:26:53Z", time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)},
		{"2025-03-14T09:26:53.589Z", time.Date(2025, 3, 14, 9, 26, 53, 589000000, time.UTC)},
		{"2025-03-14T09:26:53", time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)},
		{"2025-03-14 09:26:53", time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTime(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}

	_, err := ParseTime("last tuesday")
	assert.Error(t, err)
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "", FormatTime(time.Time{}))
	local := time.Date(2025, 3, 14, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "2025-03-14T09:00:00Z", FormatTime(local))
}

func TestNowHasNoMonotonicReading(t *testing.T) {
	now := Now()
	parsed, err := ParseTime(FormatTime(now))
	require.NoError(t, err)
	assert.Equal(t, now, parsed.UTC())
}
