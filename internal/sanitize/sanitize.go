// Package sanitize redacts payloads before they are logged or dumped:
// credentials and tokens disappear, personal fields are blanked and license
// plates are masked.
package sanitize

import (
	"strings"

	"github.com/sir-Unknown/cityvisitorparking/pkg/util"
)

// Redacted replaces every sensitive value.
const Redacted = "***"

var sensitiveKeys = []string{
	"password",
	"token",
	"authorization",
	"access_token",
	"refresh_token",
	"secret",
	"pin",
	"permitmediacode",
	"permit_media_code",
	"permitmediatypeid",
	"permit_media_type_id",
	"identifier",
}

var piiKeys = []string{
	"email",
	"phone",
	"username",
	"user_name",
	"first_name",
	"last_name",
	"name",
}

var plateKeys = []string{
	"license_plate",
	"licenseplate",
	"vrn",
	"vehicle_plate",
	"plate",
}

var permitMediaContainerKeys = map[string]bool{
	"permitmedias":  true,
	"permit_medias": true,
}

// Data returns a sanitized copy of a decoded JSON value. Maps and slices
// are walked recursively; scalar values pass through unchanged unless their
// key marks them sensitive.
func Data(value any) any {
	return sanitizeValue(value, "")
}

func sanitizeValue(value any, key string) any {
	if key != "" {
		value = maskValueForKey(key, value)
	}
	switch v := value.(type) {
	case map[string]any:
		// Plate values reappear under other keys, e.g. providers that key
		// favorites by plate expose the plate as the record id.
		plates := map[string]bool{}
		for k, item := range v {
			if s, ok := item.(string); ok && s != "" && isPlateKey(k) {
				plates[s] = true
			}
		}
		out := make(map[string]any, len(v))
		for k, item := range v {
			sanitized := sanitizeValue(item, k)
			if s, ok := sanitized.(string); ok && plates[s] {
				sanitized = util.MaskLicensePlate(s)
			}
			out[k] = sanitized
		}
		return out
	case []any:
		if key != "" && permitMediaContainerKeys[strings.ToLower(key)] {
			out := make([]any, len(v))
			for i, item := range v {
				out[i] = sanitizePermitMedia(item)
			}
			return out
		}
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitizeValue(item, key)
		}
		return out
	default:
		return value
	}
}

func maskValueForKey(key string, value any) any {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeys {
		if strings.Contains(lower, fragment) {
			return Redacted
		}
	}
	for _, fragment := range piiKeys {
		if strings.Contains(lower, fragment) {
			return Redacted
		}
	}
	if isPlateKey(lower) {
		if s, ok := value.(string); ok {
			return util.MaskLicensePlate(s)
		}
		return Redacted
	}
	return value
}

func isPlateKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range plateKeys {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// sanitizePermitMedia additionally redacts the media "Code", which is a
// credential-equivalent for the DVS portal.
func sanitizePermitMedia(value any) any {
	m, ok := value.(map[string]any)
	if !ok {
		return sanitizeValue(value, "")
	}
	out := make(map[string]any, len(m))
	for k, item := range m {
		if strings.ToLower(k) == "code" {
			out[k] = Redacted
			continue
		}
		out[k] = sanitizeValue(item, k)
	}
	return out
}

// Headers sanitizes an HTTP header map for dumping.
func Headers(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for key, value := range headers {
		if strings.ToLower(key) == "authorization" {
			out[key] = Redacted
			continue
		}
		if masked, ok := maskValueForKey(key, value).(string); ok {
			out[key] = masked
		} else {
			out[key] = Redacted
		}
	}
	return out
}
