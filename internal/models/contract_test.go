package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContract(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		wantRoot   string
		wantUnder  string
		wantSide   OptionSide
		wantStrike float64
		wantExpiry string
		wantErr    bool
	}{
		{
			name:       "equity call",
			id:         "AAPL240119C00190000",
			wantRoot:   "AAPL",
			wantUnder:  "AAPL",
			wantSide:   SideCall,
			wantStrike: 190,
			wantExpiry: "2024-01-19",
		},
		{
			name:       "weekly index put remapped",
			id:         "SPXW240119P04700000",
			wantRoot:   "SPXW",
			wantUnder:  "SPX",
			wantSide:   SidePut,
			wantStrike: 4700,
			wantExpiry: "2024-01-19",
		},
		{
			name:       "fractional strike",
			id:         "F240621C00012500",
			wantRoot:   "F",
			wantUnder:  "F",
			wantSide:   SideCall,
			wantStrike: 12.5,
			wantExpiry: "2024-06-21",
		},
		{name: "no root", id: "240119C00190000", wantErr: true},
		{name: "truncated", id: "AAPL240119C", wantErr: true},
		{name: "bad side", id: "AAPL240119X00190000", wantErr: true},
		{name: "bad strike", id: "AAPL240119C0019000x", wantErr: true},
		{name: "bad date", id: "AAPL249919C00190000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseContract(tt.id)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRoot, c.Root)
			assert.Equal(t, tt.wantUnder, c.Underlying)
			assert.Equal(t, tt.wantSide, c.Side)
			assert.Equal(t, tt.wantStrike, c.Strike)
			assert.Equal(t, tt.wantExpiry, c.Expiration.Format("2006-01-02"))
		})
	}
}

func TestCanonicalUnderlyingRoundTrip(t *testing.T) {
	// Every member spelling of an index family must resolve to the same
	// canonical underlying.
	families := map[string][]string{
		"SPX": {"SPX", "SPXW"},
		"VIX": {"VIX", "VIXW"},
		"NDX": {"NDX", "NDXP"},
		"RUT": {"RUT", "RUTW"},
		"OEX": {"OEX", "XEO"},
	}
	for want, roots := range families {
		for _, root := range roots {
			assert.Equal(t, want, CanonicalUnderlying(root), "root %s", root)
		}
	}

	// Plain equity roots pass through unchanged.
	assert.Equal(t, "AAPL", CanonicalUnderlying("AAPL"))
	assert.False(t, IsIndexUnderlying("AAPL"))
	assert.True(t, IsIndexUnderlying("SPX"))
}

func TestDaysToExpiration(t *testing.T) {
	now := time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC)

	c, err := ParseContract("AAPL240131C00190000")
	require.NoError(t, err)
	assert.Equal(t, 29, c.DaysToExpiration(now))

	// Expired contracts floor at zero.
	expired, err := ParseContract("AAPL231215C00190000")
	require.NoError(t, err)
	assert.Equal(t, 0, expired.DaysToExpiration(now))
}

func TestStripCompositeSuffix(t *testing.T) {
	assert.Equal(t, "AAPL240119C00190000", StripCompositeSuffix("AAPL240119C00190000|1705431600-42"))
	assert.Equal(t, "AAPL240119C00190000", StripCompositeSuffix("AAPL240119C00190000-7"))
	assert.Equal(t, "AAPL240119C00190000", StripCompositeSuffix("AAPL240119C00190000"))
}

func TestClassifyIntensity(t *testing.T) {
	assert.Equal(t, IntensityNormal, ClassifyIntensity(9.9))
	assert.Equal(t, IntensityModerate, ClassifyIntensity(10))
	assert.Equal(t, IntensityStrong, ClassifyIntensity(20))
	assert.Equal(t, IntensityStrong, ClassifyIntensity(49.9))
	assert.Equal(t, IntensityAggressive, ClassifyIntensity(50))
}
