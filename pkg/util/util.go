// Package util holds the shared normalization helpers: license plate
// canonicalization and masking, UTC timestamp handling and chargeable window
// filtering.
package util

import (
	"regexp"
	"strings"
	"time"

	"github.com/sir-Unknown/cityvisitorparking/pkg/errs"
	"github.com/sir-Unknown/cityvisitorparking/pkg/models"
)

var nonPlateChars = regexp.MustCompile(`[^A-Z0-9]`)

// NormalizeLicensePlate uppercases the plate and strips everything outside
// A-Z0-9. It fails with a validation error when nothing remains.
func NormalizeLicensePlate(raw string) (string, error) {
	normalized := nonPlateChars.ReplaceAllString(strings.ToUpper(raw), "")
	if normalized == "" {
		return "", errs.Validation("license plate is empty after normalization")
	}
	return normalized, nil
}

// MaskLicensePlate returns a representation safe for logs and error details.
// It never fails; unusable input collapses to "***".
func MaskLicensePlate(raw string) string {
	normalized := nonPlateChars.ReplaceAllString(strings.ToUpper(raw), "")
	switch n := len(normalized); {
	case n == 0:
		return "***"
	case n <= 2:
		return strings.Repeat("*", n)
	case n <= 4:
		return normalized[:1] + strings.Repeat("*", n-2) + normalized[n-1:]
	default:
		return normalized[:2] + strings.Repeat("*", n-4) + normalized[n-2:]
	}
}

const naiveLayout = "2006-01-02T15:04:05"

// ParseTimestamp parses an ISO 8601 timestamp that carries explicit timezone
// information ("Z" or a numeric offset) and returns it in UTC, truncated to
// the second. Offset-less input is rejected: the public contract only accepts
// timezone-aware timestamps.
func ParseTimestamp(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, errs.Validation("timestamp must be a non-empty string")
	}
	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return t.UTC().Truncate(time.Second), nil
	}
	for _, layout := range []string{naiveLayout, naiveLayout + ".999999999"} {
		if _, err := time.Parse(layout, trimmed); err == nil {
			return time.Time{}, errs.Validation("timestamp must include timezone information")
		}
	}
	return time.Time{}, errs.Validation("timestamp is not a valid ISO 8601 value")
}

// ParseProviderLocalTimestamp parses a provider timestamp that may lack an
// offset, interpreting offset-less values as local time in loc. Ambiguous and
// nonexistent local times around DST transitions resolve deterministically to
// the first occurrence, which is the fixed policy of this library.
func ParseProviderLocalTimestamp(raw string, loc *time.Location) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, errs.Validation("timestamp must be a non-empty string")
	}
	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return t.UTC().Truncate(time.Second), nil
	}
	for _, layout := range []string{naiveLayout, naiveLayout + ".999999999"} {
		if t, err := time.ParseInLocation(layout, trimmed, loc); err == nil {
			return resolveFirstOccurrence(t).UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, errs.Validation("timestamp is not a valid ISO 8601 value")
}

// resolveFirstOccurrence maps a wall clock reading that repeats during a DST
// fall-back transition to its earlier absolute instant. ParseInLocation
// resolves such readings to the later one; the pre-transition offset
// reproduces the same wall clock one shift earlier.
func resolveFirstOccurrence(t time.Time) time.Time {
	_, offset := t.Zone()
	_, earlierOffset := t.Add(-12 * time.Hour).Zone()
	if earlierOffset <= offset {
		return t
	}
	shifted := t.Add(time.Duration(offset-earlierOffset) * time.Second)
	if shifted.In(t.Location()).Format(naiveLayout) != t.Format(naiveLayout) {
		return t
	}
	return shifted
}

// FormatUTC renders t in the public wire form: UTC, second precision, Z
// suffix, no fractional digits.
func FormatUTC(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}

// EnsureUTCTimestamp parses a timezone-aware timestamp string and re-renders
// it in the public wire form. Round-trips to the second.
func EnsureUTCTimestamp(raw string) (string, error) {
	t, err := ParseTimestamp(raw)
	if err != nil {
		return "", err
	}
	return FormatUTC(t), nil
}

// NormalizeTime rejects the zero time and converts t to UTC at second
// precision.
func NormalizeTime(t time.Time) (time.Time, error) {
	if t.IsZero() {
		return time.Time{}, errs.Validation("timestamp is required")
	}
	return t.UTC().Truncate(time.Second), nil
}

// ValidateReservationTimes normalizes both window boundaries and enforces
// end > start.
func ValidateReservationTimes(start, end time.Time) (time.Time, time.Time, error) {
	startNorm, err := NormalizeTime(start)
	if err != nil {
		return time.Time{}, time.Time{}, errs.Validation("start_time is required")
	}
	endNorm, err := NormalizeTime(end)
	if err != nil {
		return time.Time{}, time.Time{}, errs.Validation("end_time is required")
	}
	if !endNorm.After(startNorm) {
		return time.Time{}, time.Time{}, errs.Validation("end_time must be after start_time")
	}
	return startNorm, endNorm, nil
}

// ChargeableBlock pairs a zone validity block with its chargeable flag as
// reported by the remote API.
type ChargeableBlock struct {
	Block      models.ZoneValidityBlock
	Chargeable bool
}

// FilterChargeableZoneValidity drops free windows and preserves input order.
// The result is never nil.
func FilterChargeableZoneValidity(entries []ChargeableBlock) []models.ZoneValidityBlock {
	blocks := make([]models.ZoneValidityBlock, 0, len(entries))
	for _, entry := range entries {
		if entry.Chargeable {
			blocks = append(blocks, entry.Block)
		}
	}
	return blocks
}
