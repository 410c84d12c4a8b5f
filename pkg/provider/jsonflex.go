package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

func unmarshalStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// FlexString decodes remote fields that portals serve interchangeably as
// JSON strings or numbers.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = ""
		return nil
	}
	if trimmed[0] == '"' {
		var str string
		if err := json.Unmarshal(trimmed, &str); err != nil {
			return err
		}
		*s = FlexString(str)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err != nil {
		return fmt.Errorf("value %s is neither string nor number", string(trimmed))
	}
	*s = FlexString(num.String())
	return nil
}

func (s FlexString) String() string {
	return string(s)
}

// FlexInt decodes remote fields that portals serve interchangeably as JSON
// numbers or numeric strings.
type FlexInt int64

func (i *FlexInt) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*i = 0
		return nil
	}
	if trimmed[0] == '"' {
		var str string
		if err := json.Unmarshal(trimmed, &str); err != nil {
			return err
		}
		str = strings.TrimSpace(str)
		if str == "" {
			*i = 0
			return nil
		}
		parsed, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return fmt.Errorf("value %q is not an integer", str)
		}
		*i = FlexInt(parsed)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err != nil {
		return fmt.Errorf("value %s is not an integer", string(trimmed))
	}
	parsed, err := num.Int64()
	if err != nil {
		// Some portals serve whole numbers with a decimal point.
		f, ferr := num.Float64()
		if ferr != nil {
			return fmt.Errorf("value %s is not an integer", num.String())
		}
		parsed = int64(f)
	}
	*i = FlexInt(parsed)
	return nil
}

func (i FlexInt) Int() int {
	return int(i)
}
