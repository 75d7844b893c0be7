package backend

import (
	"context"
	"net/http"
)

// ListCompanies returns the raw /companies body ({"data": [...]}) for an
// operator token. Shape validation is left to roster.FilterCompanies.
func (c *Client) ListCompanies(ctx context.Context, token string) ([]byte, error) {
	body, _, err := withRetry(ctx, c, operationCompanies, func(ctx context.Context) ([]byte, error) {
		resp, err := c.send(ctx, http.MethodGet, "/companies", "Bearer "+token, nil)
		if err != nil {
			return nil, err
		}
		if !resp.ok() {
			return nil, &FetchError{Resource: "companies", StatusCode: resp.status, Body: truncateBody(resp.body)}
		}
		return resp.body, nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}
