package rollup

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/orgrollup/pkg/crm"
	"github.com/platinummonkey/orgrollup/pkg/observability"
)

// RecordClient is the subset of the CRM client used by a rollup run
type RecordClient interface {
	RelationshipGetter
	OrganizationGetter
	ListOrganizations(ctx context.Context, cursor crm.Cursor) ([]crm.Organization, crm.Cursor, error)
	UpdateOrganizationTotals(ctx context.Context, id int64, totals crm.Totals) (crm.UpdateAck, error)
}

// Options configures a rollup run
type Options struct {
	// PageSize is the number of organizations requested per list call
	PageSize int
	// Start is the offset of the first page
	Start int
	// IncludeOriginInRollup makes every origin organization part of its own
	// batch, so it contributes to and receives its related set's totals
	IncludeOriginInRollup bool
	// FetchConcurrency bounds in-flight organization fetches per batch
	FetchConcurrency int
}

// DefaultOptions returns the default run options
func DefaultOptions() Options {
	return Options{
		PageSize:         100,
		Start:            0,
		FetchConcurrency: 8,
	}
}

// Summary reports the outcome of one rollup run
type Summary struct {
	RunID           string    `json:"run_id,omitempty"`
	Trigger         string    `json:"trigger,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Pages           int       `json:"pages"`
	ListCalls       int       `json:"list_calls"`
	Processed       int       `json:"processed"`
	Skipped         int       `json:"skipped"`
	Updated         int       `json:"updated"`
	ResolveFailures int       `json:"resolve_failures"`
	FetchFailures   int       `json:"fetch_failures"`
	UpdateFailures  int       `json:"update_failures"`
	Error           string    `json:"error,omitempty"`
}

// Duration returns how long the run took
func (s Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Driver pages through every organization and rolls up each related set
type Driver struct {
	client     RecordClient
	resolver   *Resolver
	aggregator *Aggregator
	options    Options
	logger     *observability.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewDriver creates a new rollup driver
func NewDriver(client RecordClient, options Options, logger *observability.Logger, metrics *observability.Metrics) *Driver {
	defaults := DefaultOptions()
	if options.PageSize <= 0 {
		options.PageSize = defaults.PageSize
	}
	if options.Start < 0 {
		options.Start = 0
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Driver{
		client:     client,
		resolver:   NewResolver(client),
		aggregator: NewAggregator(client, options.FetchConcurrency, logger, metrics),
		options:    options,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Run executes one rollup over all organizations. Entity-level failures are
// logged and counted in the summary. A failed list call ends the run and is
// returned together with the partial summary.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	ctx, span := observability.Tracer().Start(ctx, "rollup.Run")
	defer span.End()

	logger := d.logger
	if runID := observability.GetRunID(ctx); runID != "" {
		logger = logger.WithField("run_id", runID)
	}

	seen := NewSeenSet()
	summary := Summary{StartedAt: d.now()}
	cursor := crm.Cursor{Start: d.options.Start, Limit: d.options.PageSize, More: true}

	for {
		if err := ctx.Err(); err != nil {
			return d.fail(span, summary, fmt.Errorf("rollup interrupted: %w", err))
		}

		orgs, next, err := d.client.ListOrganizations(ctx, cursor)
		summary.ListCalls++
		d.metrics.RecordListCall()
		if err != nil {
			return d.fail(span, summary, fmt.Errorf("failed to list organizations at offset %d: %w", cursor.Start, err))
		}
		summary.Pages++

		for _, org := range orgs {
			d.processOrganization(ctx, logger, org, seen, &summary)
		}

		logger.WithFields(map[string]interface{}{
			"start":         cursor.Start,
			"limit":         cursor.Limit,
			"organizations": len(orgs),
			"more":          next.More,
		}).Info("Processed organization page")

		if len(orgs) == 0 || !next.More {
			break
		}
		cursor = next.Next()
	}

	summary.FinishedAt = d.now()
	span.SetAttributes(
		attribute.Int("rollup.pages", summary.Pages),
		attribute.Int("rollup.updated", summary.Updated),
	)
	return summary, nil
}

func (d *Driver) fail(span trace.Span, summary Summary, err error) (Summary, error) {
	summary.FinishedAt = d.now()
	summary.Error = err.Error()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return summary, err
}

// processOrganization runs resolve, aggregate and write-back for one origin.
// The origin is marked seen before its relationships are resolved so that a
// cycle leading back to it cannot aggregate it a second time.
func (d *Driver) processOrganization(ctx context.Context, logger *observability.Logger, org crm.Organization, seen *SeenSet, summary *Summary) {
	if !seen.Add(org.ID) {
		summary.Skipped++
		return
	}
	summary.Processed++

	ctx, span := observability.Tracer().Start(ctx, "rollup.Organization")
	span.SetAttributes(attribute.Int64("org.id", org.ID))
	defer span.End()

	logger = logger.WithField("origin_id", org.ID)

	related, err := d.resolver.Resolve(ctx, org.ID)
	if err != nil {
		summary.ResolveFailures++
		d.metrics.RecordFailure(crm.OpGetRelationships)
		span.RecordError(err)
		logger.WithField("operation", crm.OpGetRelationships).WithError(err).Warn("Skipping organization, relationships unavailable")
		return
	}

	result := d.aggregator.Aggregate(ctx, Request{
		Origin:        org.ID,
		Related:       related,
		IncludeOrigin: d.options.IncludeOriginInRollup,
	}, seen)
	summary.FetchFailures += len(result.Failed)

	for _, target := range result.Fetched {
		if _, err := d.client.UpdateOrganizationTotals(ctx, target.ID, result.Totals); err != nil {
			summary.UpdateFailures++
			d.metrics.RecordFailure(crm.OpUpdateTotals)
			logger.WithFields(map[string]interface{}{
				"org_id":    target.ID,
				"operation": crm.OpUpdateTotals,
			}).WithError(err).Warn("Failed to write rollup totals")
			continue
		}
		summary.Updated++
		d.metrics.RecordOrganizationUpdated()
	}

	logger.WithFields(map[string]interface{}{
		"related":    len(related),
		"fetched":    len(result.Fetched),
		"population": result.Totals.Population,
		"households": result.Totals.Households,
		"workforce":  result.Totals.Workforce,
	}).Debug("Rolled up related organizations")
}
