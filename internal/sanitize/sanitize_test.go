package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataRedactsCredentials(t *testing.T) {
	in := map[string]any{
		"username":     "alice@example.test",
		"password":     "hunter2",
		"Token":        "abc",
		"access_token": "def",
		"identifier":   "report-123",
		"balance":      240,
	}

	out, ok := Data(in).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, Redacted, out["username"])
	assert.Equal(t, Redacted, out["password"])
	assert.Equal(t, Redacted, out["Token"])
	assert.Equal(t, Redacted, out["access_token"])
	assert.Equal(t, Redacted, out["identifier"])
	assert.Equal(t, 240, out["balance"])
}

func TestDataMasksLicensePlates(t *testing.T) {
	in := map[string]any{
		"license_plate": "AB12CD",
		"vrn":           "XX99YY",
		"plate_number":  7,
	}

	out := Data(in).(map[string]any)
	assert.Equal(t, "AB**CD", out["license_plate"])
	assert.Equal(t, "XX**YY", out["vrn"])
	// Non-string plate values are fully redacted.
	assert.Equal(t, Redacted, out["plate_number"])
}

func TestDataMasksPlateValuedSiblings(t *testing.T) {
	// Plate-keyed portals expose the plate as the favorite id.
	in := map[string]any{
		"favorites": []any{
			map[string]any{
				"id":            "XX99YY",
				"name":          "neighbor",
				"license_plate": "XX99YY",
			},
			map[string]any{
				"id":            "31",
				"license_plate": "AB12CD",
			},
		},
	}

	out := Data(in).(map[string]any)
	favorites := out["favorites"].([]any)

	plateKeyed := favorites[0].(map[string]any)
	assert.Equal(t, "XX**YY", plateKeyed["id"])
	assert.Equal(t, "XX**YY", plateKeyed["license_plate"])

	numericKeyed := favorites[1].(map[string]any)
	assert.Equal(t, "31", numericKeyed["id"])
	assert.Equal(t, "AB**CD", numericKeyed["license_plate"])
}

func TestDataWalksNestedStructures(t *testing.T) {
	in := map[string]any{
		"reservations": []any{
			map[string]any{
				"id":            "r1",
				"license_plate": "AB12CD",
				"start_time":    "2026-01-15T09:00:00Z",
			},
		},
		"account": map[string]any{
			"email": "alice@example.test",
		},
	}

	out := Data(in).(map[string]any)
	reservations := out["reservations"].([]any)
	first := reservations[0].(map[string]any)
	assert.Equal(t, "r1", first["id"])
	assert.Equal(t, "AB**CD", first["license_plate"])
	assert.Equal(t, "2026-01-15T09:00:00Z", first["start_time"])

	account := out["account"].(map[string]any)
	assert.Equal(t, Redacted, account["email"])
}

func TestDataRedactsPermitMediaCode(t *testing.T) {
	in := map[string]any{
		"PermitMedias": []any{
			map[string]any{
				"Code":    "MEDIA9",
				"Balance": 240,
			},
		},
	}

	out := Data(in).(map[string]any)
	medias := out["PermitMedias"].([]any)
	first := medias[0].(map[string]any)
	assert.Equal(t, Redacted, first["Code"])
	assert.Equal(t, 240, first["Balance"])
}

func TestDataLeavesScalarsAlone(t *testing.T) {
	assert.Equal(t, 42, Data(42))
	assert.Equal(t, "plain", Data("plain"))
	assert.Nil(t, Data(nil))
}

func TestHeaders(t *testing.T) {
	in := map[string]string{
		"Authorization":    "Token abc",
		"Content-Type":     "application/json",
		"X-Requested-With": "angular",
	}

	out := Headers(in)
	assert.Equal(t, Redacted, out["Authorization"])
	assert.Equal(t, "application/json", out["Content-Type"])
	assert.Equal(t, "angular", out["X-Requested-With"])
}
