package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/JakeFAU/eld-roster-crawler/internal/roster"
)

// FetchRoster lists the drivers visible to token. The body may be a bare array
// or an object with a "data" array; any other shape is an empty roster.
func (c *Client) FetchRoster(ctx context.Context, token string) ([]roster.RawDriver, error) {
	drivers, attempts, err := withRetry(ctx, c, ServiceFetchRoster, func(ctx context.Context) ([]roster.RawDriver, error) {
		resp, err := c.send(ctx, http.MethodGet, "/drivers", "Bearer "+token, nil)
		if err != nil {
			return nil, err
		}
		if !resp.ok() {
			return nil, &FetchError{Resource: "drivers", StatusCode: resp.status, Body: truncateBody(resp.body)}
		}
		return parseRoster(resp.body), nil
	})
	if err != nil {
		c.exhausted(ctx, ServiceFetchRoster, attempts, err)
		return nil, err
	}
	return drivers, nil
}

func parseRoster(body []byte) []roster.RawDriver {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return []roster.RawDriver{}
	}

	var items []any
	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		if data, ok := v["data"].([]any); ok {
			items = data
		}
	}

	drivers := make([]roster.RawDriver, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			drivers = append(drivers, roster.RawDriver(obj))
		}
	}
	return drivers
}
