package roster

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Field spellings observed in backend driver payloads, in lookup order.
var (
	firstNameKeys = []string{"firstName", "firstname", "first_name"}
	lastNameKeys  = []string{"lastName", "lastname", "last_name"}
	driverIDKeys  = []string{"_id", "id"}
)

// Normalize maps raw backend records to canonical drivers. Records without a
// truthy updatedAt are treated as stale and dropped silently. The output keeps
// the input order and Normalize is idempotent over Driver.Raw.
func Normalize(raw []RawDriver) []Driver {
	drivers := make([]Driver, 0, len(raw))
	for _, rec := range raw {
		updatedAt, ok := rec["updatedAt"]
		if !ok || !truthy(updatedAt) {
			continue
		}
		drivers = append(drivers, Driver{
			FirstName: firstPresent(rec, firstNameKeys),
			LastName:  firstPresent(rec, lastNameKeys),
			ID:        firstPresent(rec, driverIDKeys),
			Active:    truthy(rec["active"]),
			UpdatedAt: stringify(updatedAt),
		})
	}
	return drivers
}

// firstPresent returns the first key whose value is neither missing nor null.
// Empty strings count as present.
func firstPresent(rec RawDriver, keys []string) *string {
	for _, key := range keys {
		v, ok := rec[key]
		if !ok || v == nil {
			continue
		}
		s := stringify(v)
		return &s
	}
	return nil
}

// truthy coerces a decoded JSON value to a boolean using loose semantics:
// null, false, "", 0 and NaN are false; everything else is true.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String() != ""
		}
		return f != 0 && !math.IsNaN(f)
	case float64:
		return t != 0 && !math.IsNaN(t)
	case float32:
		return t != 0 && !math.IsNaN(float64(t))
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return true
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}
