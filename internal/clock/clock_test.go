package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/text2mem/benchctl/internal/clock"
)

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"PT1H", time.Hour},
		{"PT2H", 2 * time.Hour},
		{"P1D", 24 * time.Hour},
		{"P1DT2H30M", 24*time.Hour + 2*time.Hour + 30*time.Minute},
		{"PT30S", 30 * time.Second},
		{"P1Y", 365 * 24 * time.Hour},
	}
	for _, c := range cases {
		got, err := clock.ParseDuration(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestParseDuration_Invalid(t *testing.T) {
	_, err := clock.ParseDuration("1H")
	assert.Error(t, err)

	_, err = clock.ParseDuration("PXH")
	assert.Error(t, err)
}

// TestAdvance_Additive verifies invariant 10: advance(a); advance(b) lands on
// the same instant as a single advance(a+b).
func TestAdvance_Additive(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	c1 := clock.New(start)
	require.NoError(t, c1.Advance("PT1H"))
	require.NoError(t, c1.Advance("PT30M"))

	c2 := clock.New(start)
	require.NoError(t, c2.Advance("PT1H30M"))

	assert.True(t, c1.Now().Equal(c2.Now()))
}
