package naming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var periodStart = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func TestShortNames(t *testing.T) {
	s := Session{Marker: "UBX", Mode: ModeShort, Sampling: 30 * time.Second}

	path, compliant := s.Resolve(Observation, periodStart, 24*time.Hour)
	assert.Equal(t, "UBX001.20O", path)
	assert.True(t, compliant)

	path, _ = s.Resolve(Navigation, periodStart, 24*time.Hour)
	assert.Equal(t, "UBX001.20N", path)

	s.Crinex = true
	path, _ = s.Resolve(Observation, periodStart, 24*time.Hour)
	assert.Equal(t, "UBX001.20D", path)
}

func TestLongNames(t *testing.T) {
	s := Session{
		Marker:   "UBX",
		Country:  "FRA",
		Mode:     ModeLong,
		Sampling: 30 * time.Second,
	}

	path, compliant := s.Resolve(Observation, periodStart, 24*time.Hour)
	assert.Equal(t, "UBXFRA_R_20200010000_01D_30S_MO.rnx", path)
	assert.True(t, compliant)

	path, _ = s.Resolve(Navigation, periodStart, 24*time.Hour)
	assert.Equal(t, "UBXFRA_R_20200010000_01D_MN.rnx", path)
}

func TestLongNameHourWindow(t *testing.T) {
	s := Session{Marker: "UBX", Country: "FRA", Mode: ModeLong, Sampling: time.Second}
	at := time.Date(2020, 1, 1, 15, 0, 0, 0, time.UTC)

	path, _ := s.Resolve(Observation, at, time.Hour)
	assert.Equal(t, "UBXFRA_R_20200011500_01H_01S_MO.rnx", path)
}

func TestLongNameWithoutCountryIsNonCompliant(t *testing.T) {
	s := Session{Marker: "UBX", Mode: ModeLong, Sampling: 30 * time.Second}

	path, compliant := s.Resolve(Observation, periodStart, 24*time.Hour)
	assert.False(t, compliant)
	assert.Equal(t, "UBXXXX_R_20200010000_01D_30S_MO.rnx", path)
}

func TestLongNameCrinex(t *testing.T) {
	s := Session{Marker: "UBX", Country: "FRA", Mode: ModeLong, Sampling: 30 * time.Second, Crinex: true}

	path, _ := s.Resolve(Observation, periodStart, 24*time.Hour)
	assert.Equal(t, "UBXFRA_R_20200010000_01D_30S_MO.crx", path)

	// navigation files are never Hatanaka encoded
	path, _ = s.Resolve(Navigation, periodStart, 24*time.Hour)
	assert.Equal(t, "UBXFRA_R_20200010000_01D_MN.rnx", path)
}

func TestCustomMode(t *testing.T) {
	s := Session{Mode: ModeCustom, CustomName: "session.obs", Dir: "/data"}

	path, compliant := s.Resolve(Observation, periodStart, 24*time.Hour)
	assert.Equal(t, "/data/session.obs", path)
	assert.True(t, compliant)
}

func TestGzipSuffix(t *testing.T) {
	s := Session{Marker: "UBX", Country: "FRA", Mode: ModeLong, Sampling: 30 * time.Second, Gzip: true}

	path, _ := s.Resolve(Observation, periodStart, 24*time.Hour)
	assert.Equal(t, "UBXFRA_R_20200010000_01D_30S_MO.rnx.gz", path)
}

func TestDestinationDirectory(t *testing.T) {
	s := Session{Marker: "UBX", Mode: ModeShort, Dir: "/var/gnss"}

	path, _ := s.Resolve(Observation, periodStart, 24*time.Hour)
	assert.Equal(t, "/var/gnss/UBX001.20O", path)
}

func TestWindowCodes(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{24 * time.Hour, "01D"},
		{12 * time.Hour, "12H"},
		{6 * time.Hour, "06H"},
		{time.Hour, "01H"},
		{15 * time.Minute, "15M"},
		{90 * time.Second, "90S"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, windowCode(tc.d))
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{
		"":       ModeLong,
		"long":   ModeLong,
		"short":  ModeShort,
		"custom": ModeCustom,
	} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseMode("fancy")
	assert.Error(t, err)
}
