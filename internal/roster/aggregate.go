package roster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/eld-roster-crawler/internal/metrics"
	"github.com/JakeFAU/eld-roster-crawler/internal/retry"
	"github.com/JakeFAU/eld-roster-crawler/internal/storage"
)

// Default artifact keys.
const (
	DefaultCompaniesKey    = "companies_filtered.json"
	DefaultOutputKey       = "companies_with_drivers.json"
	DefaultActiveOutputKey = "companies_with_drivers_active.json"
	DefaultPace            = time.Second
)

// Config controls an Aggregator.
type Config struct {
	// EldPlatform tags successful entries.
	EldPlatform string
	// Pace is the fixed wait between two companies.
	Pace time.Duration
	// CompaniesKey is the artifact RunFromStore reads its input from.
	CompaniesKey string
	// OutputKey is the artifact snapshotted after every company.
	OutputKey string
}

func (c Config) withDefaults() Config {
	if c.EldPlatform == "" {
		c.EldPlatform = DefaultEldPlatform
	}
	if c.Pace < 0 {
		c.Pace = 0
	}
	if c.CompaniesKey == "" {
		c.CompaniesKey = DefaultCompaniesKey
	}
	if c.OutputKey == "" {
		c.OutputKey = DefaultOutputKey
	}
	return c
}

// Aggregator walks the company list sequentially and snapshots progress.
type Aggregator struct {
	session Session
	fetcher RosterFetcher
	store   storage.Provider
	pauser  retry.Pauser
	cfg     Config
	logger  *zap.Logger
}

// Option customises an Aggregator.
type Option func(*Aggregator)

// WithPauser replaces the pacing wait, mainly for tests.
func WithPauser(p retry.Pauser) Option {
	return func(a *Aggregator) {
		if p != nil {
			a.pauser = p
		}
	}
}

// NewAggregator constructs an Aggregator.
func NewAggregator(
	session Session,
	fetcher RosterFetcher,
	store storage.Provider,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{
		session: session,
		fetcher: fetcher,
		store:   store,
		pauser:  retry.TimerPauser{},
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OutputKey returns the artifact the aggregator snapshots into.
func (a *Aggregator) OutputKey() string {
	return a.cfg.OutputKey
}

// RunFromStore loads the companies artifact and runs the aggregation over it.
func (a *Aggregator) RunFromStore(ctx context.Context) (AggregateResult, error) {
	data, err := a.store.Get(ctx, a.cfg.CompaniesKey)
	if err != nil {
		return nil, fmt.Errorf("read companies %s: %w", a.cfg.CompaniesKey, err)
	}
	companies, err := ParseCompanies(data)
	if err != nil {
		return nil, fmt.Errorf("parse companies %s: %w", a.cfg.CompaniesKey, err)
	}
	return a.Run(ctx, companies)
}

// Run processes companies in order. Per-company failures become error-tagged
// entries; only snapshot failures and context cancellation end the run early.
// After each processed company the full result so far is written to the
// output artifact, so readers always see a valid prefix of the final result.
func (a *Aggregator) Run(ctx context.Context, companies []Company) (AggregateResult, error) {
	start := time.Now()
	total := len(companies)
	result := make(AggregateResult, 0, total)

	for i, company := range companies {
		if company.CompanyID.IsZero() {
			a.logger.Warn("skipping company without id", zap.Int("index", i))
			metrics.ObserveCompany(metrics.OutcomeSkipped)
			continue
		}

		a.logger.Info("processing company",
			zap.Int("position", i+1),
			zap.Int("total", total),
			zap.String("company_id", company.CompanyID.String()),
			zap.String("name", company.DisplayName()),
		)

		entry, err := a.processCompany(ctx, company)
		if err != nil && ctx.Err() != nil {
			return result, fmt.Errorf("aggregation interrupted at company %s: %w", company.CompanyID, ctx.Err())
		}
		result = append(result, entry)

		if err := a.snapshot(ctx, result); err != nil {
			return result, err
		}

		if i < total-1 {
			if err := a.pauser.Pause(ctx, a.cfg.Pace); err != nil {
				return result, fmt.Errorf("aggregation interrupted: %w", err)
			}
		}
	}

	if err := a.snapshot(ctx, result); err != nil {
		return result, err
	}
	metrics.ObserveRun(time.Since(start))
	a.logger.Info("aggregation finished",
		zap.Int("entries", len(result)),
		zap.String("output", a.cfg.OutputKey),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// processCompany runs authenticate, fetch and normalize for one company. The
// returned entry is always usable; err is only set for failed entries.
func (a *Aggregator) processCompany(ctx context.Context, company Company) (CompanyResult, error) {
	token, err := a.session.Authenticate(ctx, company.CompanyID)
	if err != nil {
		return a.failed(company, "authenticate", err), err
	}
	raw, err := a.fetcher.FetchRoster(ctx, token)
	if err != nil {
		return a.failed(company, "fetch roster", err), err
	}
	drivers := Normalize(raw)

	metrics.ObserveCompany(metrics.OutcomeSucceeded)
	metrics.ObserveDrivers(len(drivers))
	a.logger.Debug("company roster collected",
		zap.String("company_id", company.CompanyID.String()),
		zap.Int("raw", len(raw)),
		zap.Int("drivers", len(drivers)),
	)
	return CompanyResult{
		EldPlatform: a.cfg.EldPlatform,
		CompanyID:   company.CompanyID,
		Name:        company.Name,
		Drivers:     drivers,
	}, nil
}

func (a *Aggregator) failed(company Company, stage string, err error) CompanyResult {
	metrics.ObserveCompany(metrics.OutcomeFailed)
	a.logger.Error("company failed",
		zap.String("company_id", company.CompanyID.String()),
		zap.String("stage", stage),
		zap.Error(err),
	)
	return CompanyResult{
		CompanyID: company.CompanyID,
		Name:      company.Name,
		Drivers:   []Driver{},
		Error:     err.Error(),
	}
}

func (a *Aggregator) snapshot(ctx context.Context, result AggregateResult) error {
	if err := storage.WriteJSON(ctx, a.store, a.cfg.OutputKey, result); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

// IsMalformed reports whether err stems from structurally invalid input.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedInput)
}
