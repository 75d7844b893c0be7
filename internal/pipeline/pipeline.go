// Package pipeline chains the full roster refresh: operator login, company
// listing, per-company aggregation and the inactive-driver post-filter.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/eld-roster-crawler/internal/roster"
	"github.com/JakeFAU/eld-roster-crawler/internal/storage"
)

// Operator is the backend surface used with the global operator credentials.
type Operator interface {
	AuthenticateOperator(ctx context.Context) (string, error)
	ListCompanies(ctx context.Context, token string) ([]byte, error)
}

// Aggregator processes a company list into per-company results.
type Aggregator interface {
	Run(ctx context.Context, companies []roster.Company) (roster.AggregateResult, error)
}

// Config names the artifacts the pipeline reads and writes.
type Config struct {
	ExcludePrefix   string
	CompaniesKey    string
	OutputKey       string
	ActiveOutputKey string
}

// Summary is the outcome of a full run.
type Summary struct {
	Success              bool   `json:"success"`
	Message              string `json:"message"`
	CompaniesCount       int    `json:"companiesCount"`
	ActiveCompaniesCount int    `json:"activeCompaniesCount"`
	ExecutionTimeMs      int64  `json:"executionTimeMs"`
}

// CompaniesSummary is the outcome of a listing-only run.
type CompaniesSummary struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// Pipeline wires the operator session, the aggregator and the artifact store.
type Pipeline struct {
	operator   Operator
	aggregator Aggregator
	store      storage.Provider
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

// New constructs a Pipeline.
func New(operator Operator, aggregator Aggregator, store storage.Provider, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.CompaniesKey == "" {
		cfg.CompaniesKey = roster.DefaultCompaniesKey
	}
	if cfg.OutputKey == "" {
		cfg.OutputKey = roster.DefaultOutputKey
	}
	if cfg.ActiveOutputKey == "" {
		cfg.ActiveOutputKey = roster.DefaultActiveOutputKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		operator:   operator,
		aggregator: aggregator,
		store:      store,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes the whole refresh. On failure the returned Summary carries
// Success=false and the elapsed time alongside the error.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	start := p.now()
	elapsed := func() int64 { return p.now().Sub(start).Milliseconds() }

	companies, err := p.FetchCompanies(ctx)
	if err != nil {
		return Summary{ExecutionTimeMs: elapsed()}, err
	}

	results, err := p.aggregator.Run(ctx, companies)
	if err != nil {
		return Summary{ExecutionTimeMs: elapsed()}, fmt.Errorf("aggregate drivers: %w", err)
	}

	active, err := p.writeActive(ctx, results)
	if err != nil {
		return Summary{ExecutionTimeMs: elapsed()}, err
	}

	summary := Summary{
		Success:              true,
		Message:              "All companies and drivers fetched and filtered",
		CompaniesCount:       len(companies),
		ActiveCompaniesCount: roster.CountWithDrivers(active),
		ExecutionTimeMs:      elapsed(),
	}
	p.logger.Info("pipeline finished",
		zap.Int("companies", summary.CompaniesCount),
		zap.Int("active_companies", summary.ActiveCompaniesCount),
		zap.Int64("execution_ms", summary.ExecutionTimeMs),
	)
	return summary, nil
}

// FetchCompanies authenticates as operator, lists and filters companies and
// persists the filtered list to the companies artifact.
func (p *Pipeline) FetchCompanies(ctx context.Context) ([]roster.Company, error) {
	token, err := p.operator.AuthenticateOperator(ctx)
	if err != nil {
		return nil, fmt.Errorf("operator authentication: %w", err)
	}
	raw, err := p.operator.ListCompanies(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	companies, err := roster.FilterCompanies(raw, p.cfg.ExcludePrefix)
	if err != nil {
		return nil, fmt.Errorf("filter companies: %w", err)
	}
	if err := storage.WriteJSON(ctx, p.store, p.cfg.CompaniesKey, companies); err != nil {
		return nil, fmt.Errorf("save companies: %w", err)
	}
	p.logger.Info("companies fetched, filtered and saved",
		zap.Int("count", len(companies)),
		zap.String("key", p.cfg.CompaniesKey),
	)
	return companies, nil
}

// FetchCompaniesSummary wraps FetchCompanies for the HTTP and CLI surfaces.
func (p *Pipeline) FetchCompaniesSummary(ctx context.Context) (CompaniesSummary, error) {
	companies, err := p.FetchCompanies(ctx)
	if err != nil {
		return CompaniesSummary{}, err
	}
	return CompaniesSummary{Message: "Companies fetched, filtered, and saved", Count: len(companies)}, nil
}

// FilterInactive rewrites the active artifact from the last aggregate snapshot.
func (p *Pipeline) FilterInactive(ctx context.Context) (roster.AggregateResult, error) {
	var results roster.AggregateResult
	if err := storage.ReadJSON(ctx, p.store, p.cfg.OutputKey, &results); err != nil {
		return nil, fmt.Errorf("read %s: %w", p.cfg.OutputKey, err)
	}
	return p.writeActive(ctx, results)
}

// Results returns the latest aggregate snapshot.
func (p *Pipeline) Results(ctx context.Context) (roster.AggregateResult, error) {
	var results roster.AggregateResult
	if err := storage.ReadJSON(ctx, p.store, p.cfg.OutputKey, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Pipeline) writeActive(ctx context.Context, results roster.AggregateResult) (roster.AggregateResult, error) {
	active := roster.FilterInactive(results)
	if err := storage.WriteJSON(ctx, p.store, p.cfg.ActiveOutputKey, active); err != nil {
		return nil, fmt.Errorf("save active drivers: %w", err)
	}
	p.logger.Info("inactive drivers filtered",
		zap.Int("companies", len(active)),
		zap.String("key", p.cfg.ActiveOutputKey),
	)
	return active, nil
}
