package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sir-Unknown/cityvisitorparking/pkg/errs"
	"github.com/sir-Unknown/cityvisitorparking/pkg/models"
)

func TestNormalizeLicensePlate(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "dashes stripped", raw: "ab-12-cd", want: "AB12CD"},
		{name: "spaces stripped", raw: " g 001 bb ", want: "G001BB"},
		{name: "already canonical", raw: "XX99YY", want: "XX99YY"},
		{name: "unicode dropped", raw: "ÄB-12", want: "B12"},
		{name: "empty", raw: "", wantErr: true},
		{name: "only separators", raw: "--  --", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeLicensePlate(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errs.IsValidation(err))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMaskLicensePlate(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "", want: "***"},
		{raw: "--", want: "***"},
		{raw: "A", want: "*"},
		{raw: "AB", want: "**"},
		{raw: "AB1", want: "A*1"},
		{raw: "AB12", want: "A**2"},
		{raw: "ab-12-cd", want: "AB**CD"},
		{raw: "G001BB", want: "G0**BB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskLicensePlate(tt.raw), "raw=%q", tt.raw)
	}
}

func TestParseTimestamp(t *testing.T) {
	got, err := ParseTimestamp("2026-03-01T12:30:45Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC), got)

	got, err = ParseTimestamp("2026-03-01T13:30:45+01:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC), got)

	// Fractional seconds are truncated, not rounded.
	got, err = ParseTimestamp("2026-03-01T12:30:45.987Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC), got)

	_, err = ParseTimestamp("2026-03-01T12:30:45")
	assert.True(t, errs.IsValidation(err))
	assert.Contains(t, err.Error(), "timezone")

	_, err = ParseTimestamp("")
	assert.True(t, errs.IsValidation(err))

	_, err = ParseTimestamp("yesterday")
	assert.True(t, errs.IsValidation(err))
}

func TestParseProviderLocalTimestamp(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)

	// Offset-less input is read as Amsterdam local time.
	got, err := ParseProviderLocalTimestamp("2026-01-15T10:00:00", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC), got)

	// Explicit offsets win over loc.
	got, err = ParseProviderLocalTimestamp("2026-01-15T10:00:00Z", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC), got)

	// Ambiguous fall-back hour resolves to the first occurrence (CEST, +02).
	got, err = ParseProviderLocalTimestamp("2026-10-25T02:30:00", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 25, 0, 30, 0, 0, time.UTC), got)

	// Unambiguous readings on the transition day are untouched.
	got, err = ParseProviderLocalTimestamp("2026-10-25T15:00:00", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 25, 14, 0, 0, 0, time.UTC), got)

	got, err = ParseProviderLocalTimestamp("2026-10-25T01:30:00", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 24, 23, 30, 0, 0, time.UTC), got)

	_, err = ParseProviderLocalTimestamp("not a time", loc)
	assert.True(t, errs.IsValidation(err))
}

func TestFormatUTC(t *testing.T) {
	amsterdam, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)

	in := time.Date(2026, 7, 1, 14, 5, 9, 400e6, amsterdam)
	assert.Equal(t, "2026-07-01T12:05:09Z", FormatUTC(in))
}

func TestEnsureUTCTimestamp(t *testing.T) {
	got, err := EnsureUTCTimestamp("2026-07-01T14:05:09.250+02:00")
	require.NoError(t, err)
	assert.Equal(t, "2026-07-01T12:05:09Z", got)

	_, err = EnsureUTCTimestamp("2026-07-01T14:05:09")
	assert.True(t, errs.IsValidation(err))
}

func TestValidateReservationTimes(t *testing.T) {
	start := time.Date(2026, 5, 1, 10, 0, 0, 123, time.UTC)
	end := time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC)

	gotStart, gotEnd, err := ValidateReservationTimes(start, end)
	require.NoError(t, err)
	assert.Equal(t, start.Truncate(time.Second), gotStart)
	assert.Equal(t, end, gotEnd)

	_, _, err = ValidateReservationTimes(time.Time{}, end)
	assert.True(t, errs.IsValidation(err))

	_, _, err = ValidateReservationTimes(start, time.Time{})
	assert.True(t, errs.IsValidation(err))

	_, _, err = ValidateReservationTimes(end, start)
	assert.True(t, errs.IsValidation(err))

	// Equal boundaries after truncation are rejected too.
	_, _, err = ValidateReservationTimes(start, start.Add(500*time.Millisecond))
	assert.True(t, errs.IsValidation(err))
}

func TestFilterChargeableZoneValidity(t *testing.T) {
	mk := func(h int) models.ZoneValidityBlock {
		return models.ZoneValidityBlock{
			StartTime: time.Date(2026, 5, 1, h, 0, 0, 0, time.UTC),
			EndTime:   time.Date(2026, 5, 1, h+1, 0, 0, 0, time.UTC),
		}
	}

	got := FilterChargeableZoneValidity([]ChargeableBlock{
		{Block: mk(9), Chargeable: true},
		{Block: mk(10), Chargeable: false},
		{Block: mk(11), Chargeable: true},
	})
	require.Len(t, got, 2)
	assert.Equal(t, mk(9), got[0])
	assert.Equal(t, mk(11), got[1])

	got = FilterChargeableZoneValidity(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
