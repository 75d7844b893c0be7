package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// maxErrorBody caps how much of a response body is kept in an error.
const maxErrorBody = 512

var (
	// ErrCredentialMissing means the operator username or password is empty.
	ErrCredentialMissing = errors.New("missing backend credentials")
	// ErrTokenMissing matches every *TokenMissingError.
	ErrTokenMissing = errors.New("no token in auth response")
)

// AuthenticationError is returned when /authentication answers with a non-2xx status.
type AuthenticationError struct {
	// CompanyID is empty for the operator session.
	CompanyID  string
	StatusCode int
	Body       string
}

func (e *AuthenticationError) Error() string {
	if e.CompanyID == "" {
		return fmt.Sprintf("operator auth failed: %s - %s", statusLine(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("auth failed for company %s: %s - %s", e.CompanyID, statusLine(e.StatusCode), e.Body)
}

// TokenMissingError is returned when a 2xx auth response carries no usable token.
type TokenMissingError struct {
	CompanyID string
}

func (e *TokenMissingError) Error() string {
	if e.CompanyID == "" {
		return "no token found in operator auth response"
	}
	return fmt.Sprintf("no token found in auth response for company %s", e.CompanyID)
}

// Is lets errors.Is(err, ErrTokenMissing) match.
func (e *TokenMissingError) Is(target error) bool {
	return target == ErrTokenMissing
}

// FetchError is returned when a resource GET answers with a non-2xx status.
type FetchError struct {
	Resource   string
	StatusCode int
	Body       string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch failed: %s - %s", e.Resource, statusLine(e.StatusCode), e.Body)
}

func statusLine(code int) string {
	if text := http.StatusText(code); text != "" {
		return fmt.Sprintf("%d %s", code, text)
	}
	return fmt.Sprintf("%d", code)
}

func truncateBody(body []byte) string {
	if len(body) == 0 {
		return "<no body>"
	}
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
