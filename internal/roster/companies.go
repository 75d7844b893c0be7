package roster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultExcludePrefix marks test/noise companies in the backend listing.
const DefaultExcludePrefix = "zzz"

// ParseCompanies decodes a companies document. Anything other than a JSON
// array is ErrMalformedInput.
func ParseCompanies(data []byte) ([]Company, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: companies document must be an array", ErrMalformedInput)
	}
	var companies []Company
	if err := json.Unmarshal(trimmed, &companies); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return companies, nil
}

// FilterCompanies reduces a backend listing ({"data": [...]}) to id/name pairs
// and drops companies whose name starts with excludePrefix (case-insensitive).
func FilterCompanies(listing []byte, excludePrefix string) ([]Company, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(listing, &envelope); err != nil {
		return nil, fmt.Errorf("%w: invalid companies structure: %v", ErrMalformedInput, err)
	}
	if len(envelope.Data) == 0 || isJSONNull(envelope.Data) {
		return nil, fmt.Errorf("%w: invalid companies structure", ErrMalformedInput)
	}
	all, err := ParseCompanies(envelope.Data)
	if err != nil {
		return nil, err
	}

	prefix := strings.ToLower(excludePrefix)
	kept := make([]Company, 0, len(all))
	for _, c := range all {
		if prefix != "" && c.Name != nil && strings.HasPrefix(strings.ToLower(*c.Name), prefix) {
			continue
		}
		kept = append(kept, c)
	}
	return kept, nil
}

// FilterInactive returns a copy of results keeping only active drivers.
func FilterInactive(results AggregateResult) AggregateResult {
	out := make(AggregateResult, 0, len(results))
	for _, entry := range results {
		active := make([]Driver, 0, len(entry.Drivers))
		for _, d := range entry.Drivers {
			if d.Active {
				active = append(active, d)
			}
		}
		entry.Drivers = active
		out = append(out, entry)
	}
	return out
}

// CountWithDrivers counts entries that still have at least one driver.
func CountWithDrivers(results AggregateResult) int {
	n := 0
	for _, entry := range results {
		if len(entry.Drivers) > 0 {
			n++
		}
	}
	return n
}
