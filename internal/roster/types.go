package roster

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedInput marks structurally invalid input documents. It is fatal for a run.
var ErrMalformedInput = errors.New("malformed input")

// DefaultEldPlatform tags successful company results.
const DefaultEldPlatform = "HERO"

// CompanyID is the backend's opaque tenant identifier. The backend hands out
// both JSON numbers and JSON strings; the original form is kept so the ID
// round-trips unchanged into requests and artifacts.
type CompanyID struct {
	value   string
	numeric bool
}

// StringCompanyID builds a string-typed identifier.
func StringCompanyID(v string) CompanyID {
	return CompanyID{value: v}
}

// NumericCompanyID builds a number-typed identifier.
func NumericCompanyID(v int64) CompanyID {
	return CompanyID{value: strconv.FormatInt(v, 10), numeric: true}
}

// String returns the identifier text.
func (id CompanyID) String() string {
	return id.value
}

// IsNumeric reports whether the identifier was a JSON number.
func (id CompanyID) IsNumeric() bool {
	return id.numeric
}

// IsZero reports whether the identifier is unusable: absent, empty or numeric zero.
func (id CompanyID) IsZero() bool {
	if id.value == "" {
		return true
	}
	if id.numeric {
		f, err := strconv.ParseFloat(id.value, 64)
		return err != nil || f == 0
	}
	return false
}

// MarshalJSON writes the identifier in its original JSON form.
func (id CompanyID) MarshalJSON() ([]byte, error) {
	if id.value == "" && !id.numeric {
		return []byte("null"), nil
	}
	if id.numeric {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON accepts strings and numbers. Any other JSON type yields the
// zero identifier so the company is skipped rather than failing the run.
func (id *CompanyID) UnmarshalJSON(data []byte) error {
	*id = CompanyID{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("company id: %w", err)
		}
		id.value = s
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return fmt.Errorf("company id: %w", err)
		}
		id.value = n.String()
		id.numeric = true
	}
	return nil
}

// Company is one tenant to crawl.
type Company struct {
	CompanyID CompanyID `json:"companyId"`
	Name      *string   `json:"name"`
}

var (
	companyIDKeys   = []string{"companyId", "id", "company_id"}
	companyNameKeys = []string{"name", "companyName", "company_name"}
)

// UnmarshalJSON resolves the identifier and name from their known aliases.
// Non-object entries decode to a Company without an identifier.
func (c *Company) UnmarshalJSON(data []byte) error {
	*c = Company{}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil //nolint:nilerr // non-object entries are skipped by the aggregator
	}
	for _, key := range companyIDKeys {
		raw, ok := fields[key]
		if !ok || isJSONNull(raw) {
			continue
		}
		if err := json.Unmarshal(raw, &c.CompanyID); err != nil {
			return err
		}
		break
	}
	for _, key := range companyNameKeys {
		raw, ok := fields[key]
		if !ok || isJSONNull(raw) {
			continue
		}
		var name string
		if err := json.Unmarshal(raw, &name); err == nil && name != "" {
			c.Name = &name
		}
		break
	}
	return nil
}

// DisplayName is the name used in logs.
func (c Company) DisplayName() string {
	if c.Name == nil {
		return "<unnamed>"
	}
	return *c.Name
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// RawDriver is a driver record exactly as the backend returned it.
type RawDriver map[string]any

// Driver is the canonical driver record.
type Driver struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	ID        *string `json:"id"`
	Active    bool    `json:"active"`
	UpdatedAt string  `json:"updatedAt"`
}

// Raw converts the canonical record back into backend form.
func (d Driver) Raw() RawDriver {
	raw := RawDriver{
		"firstName": nil,
		"lastName":  nil,
		"id":        nil,
		"active":    d.Active,
		"updatedAt": d.UpdatedAt,
	}
	if d.FirstName != nil {
		raw["firstName"] = *d.FirstName
	}
	if d.LastName != nil {
		raw["lastName"] = *d.LastName
	}
	if d.ID != nil {
		raw["id"] = *d.ID
	}
	return raw
}

// CompanyResult is the outcome for one company. Successful entries carry the
// platform tag; failed entries carry Error and no drivers.
type CompanyResult struct {
	EldPlatform string    `json:"eldPlatform,omitempty"`
	CompanyID   CompanyID `json:"companyId"`
	Name        *string   `json:"name"`
	Drivers     []Driver  `json:"drivers"`
	Error       string    `json:"error,omitempty"`
}

// Failed reports whether the entry records an exhausted-retry failure.
func (r CompanyResult) Failed() bool {
	return r.Error != ""
}

// AggregateResult holds one entry per processed company, in input order.
type AggregateResult []CompanyResult
