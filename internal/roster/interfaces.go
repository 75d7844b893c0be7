package roster

import "context"

// Session authenticates against the backend on behalf of one company.
type Session interface {
	Authenticate(ctx context.Context, companyID CompanyID) (string, error)
}

// RosterFetcher retrieves the raw driver roster visible to a tenant token.
type RosterFetcher interface {
	FetchRoster(ctx context.Context, token string) ([]RawDriver, error)
}
