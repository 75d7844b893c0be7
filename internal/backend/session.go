package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/eld-roster-crawler/internal/roster"
)

type authRequest struct {
	Company  any    `json:"company"`
	Email    string `json:"email"`
	Password string `json:"password"`
	RCode    string `json:"rCode"`
	Strategy string `json:"strategy"`
}

// tokenRule locates a token inside a decoded auth response.
type tokenRule struct {
	name string
	path []string
}

// tokenRules are tried in order; the first non-empty string wins. The backend
// has returned each of these shapes at some point.
var tokenRules = []tokenRule{
	{name: "accessToken", path: []string{"accessToken"}},
	{name: "token", path: []string{"token"}},
	{name: "data.token", path: []string{"data", "token"}},
	{name: "data.accessToken", path: []string{"data", "accessToken"}},
}

func (r tokenRule) extract(doc map[string]any) (string, bool) {
	var cur any = doc
	for _, key := range r.path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur = obj[key]
	}
	token, ok := cur.(string)
	return token, ok && token != ""
}

// extractToken applies tokenRules to an auth response body. Unparsable bodies
// hold no token.
func extractToken(body []byte) (string, string, bool) {
	var doc map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(body), &doc); err != nil {
		return "", "", false
	}
	for _, rule := range tokenRules {
		if token, ok := rule.extract(doc); ok {
			return token, rule.name, true
		}
	}
	return "", "", false
}

// Authenticate obtains a bearer token scoped to companyID. Each attempt covers
// the request, the status check and token extraction. When the retries are
// exhausted one alert is raised and the last error is returned.
func (c *Client) Authenticate(ctx context.Context, companyID roster.CompanyID) (string, error) {
	token, attempts, err := withRetry(ctx, c, ServiceAuthenticate, func(ctx context.Context) (string, error) {
		return c.authenticate(ctx, companyID, companyID.String())
	})
	if err != nil {
		c.exhausted(ctx, ServiceAuthenticate, attempts, err)
		return "", err
	}
	return token, nil
}

// AuthenticateOperator obtains the operator token (company null) used for the
// company listing. It is retried but raises no alert.
func (c *Client) AuthenticateOperator(ctx context.Context) (string, error) {
	token, _, err := withRetry(ctx, c, operationOperator, func(ctx context.Context) (string, error) {
		return c.authenticate(ctx, nil, "")
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (c *Client) authenticate(ctx context.Context, company any, companyID string) (string, error) {
	creds := c.cfg.Credentials
	payload := authRequest{
		Company:  company,
		Email:    creds.Username,
		Password: creds.Password,
		RCode:    "hero",
		Strategy: "local",
	}
	resp, err := c.send(ctx, http.MethodPost, "/authentication", BasicAuthHeader(creds.Username, creds.Password), payload)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", &AuthenticationError{
			CompanyID:  companyID,
			StatusCode: resp.status,
			Body:       truncateBody(resp.body),
		}
	}
	token, rule, ok := extractToken(resp.body)
	if !ok {
		return "", &TokenMissingError{CompanyID: companyID}
	}
	c.logger.Debug("authenticated",
		zap.String("company_id", companyID),
		zap.String("token_field", rule),
	)
	return token, nil
}
