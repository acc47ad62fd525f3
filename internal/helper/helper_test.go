package helper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormTF(t *testing.T) {
	cases := map[string]string{
		"60m":       "1h",
		"candle15m": "15m",
		" 1H ":      "1h",
		"1D":        "1d",
		"24h":       "1d",
		"5m":        "5m",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormTF(in), in)
	}
}

func TestTFDuration(t *testing.T) {
	d, err := TFDuration("15m")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)

	d, err = TFDuration("1D")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)

	d, err = TFDuration("1w")
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, d)

	for _, bad := range []string{"", "xd", "0m", "abc"} {
		_, err := TFDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestSlot(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 22, 31, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC), Slot(ts, 15*time.Minute))
	assert.Equal(t, ts, Slot(ts, 0))
}
