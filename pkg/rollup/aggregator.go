package rollup

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/orgrollup/pkg/crm"
	"github.com/platinummonkey/orgrollup/pkg/observability"
)

// OrganizationGetter fetches single organizations from the CRM
type OrganizationGetter interface {
	GetOrganization(ctx context.Context, id int64) (crm.Organization, error)
}

// Request describes one aggregation batch
type Request struct {
	// Origin is the organization whose relationships produced Related
	Origin int64
	// Related holds the resolved related organization ids
	Related []int64
	// IncludeOrigin adds the origin to its own batch
	IncludeOrigin bool
}

// Result is the outcome of one aggregation batch
type Result struct {
	Totals crm.Totals
	// Fetched holds the organizations that were fetched successfully, in batch order
	Fetched []crm.Organization
	// Failed holds the ids whose fetch failed; they are excluded from Totals
	Failed []int64
}

// Aggregator fetches a related set concurrently and sums its attributes
type Aggregator struct {
	client      OrganizationGetter
	concurrency int
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewAggregator creates a new aggregator. concurrency bounds the number of
// in-flight fetches per batch; zero or less means unbounded.
func NewAggregator(client OrganizationGetter, concurrency int, logger *observability.Logger, metrics *observability.Metrics) *Aggregator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Aggregator{
		client:      client,
		concurrency: concurrency,
		logger:      logger,
		metrics:     metrics,
	}
}

// batchIDs claims the ids of a request against the seen set. The origin is
// expected to be in the set already; it joins the batch only when requested
// or when the CRM lists it among its own related organizations.
func batchIDs(req Request, seen *SeenSet) []int64 {
	selfListed := false
	others := make([]int64, 0, len(req.Related))
	for _, id := range req.Related {
		if id == req.Origin {
			selfListed = true
			continue
		}
		others = append(others, id)
	}

	ids := seen.Claim(others)
	if req.IncludeOrigin || selfListed {
		seen.Add(req.Origin)
		ids = append([]int64{req.Origin}, ids...)
	}
	return ids
}

// Aggregate fetches every unseen id of the request and sums the attributes of
// the organizations that could be fetched. A failed fetch never aborts the
// batch: it is logged and excluded from both the sum and the write-back set.
func (a *Aggregator) Aggregate(ctx context.Context, req Request, seen *SeenSet) Result {
	ids := batchIDs(req, seen)
	if len(ids) == 0 {
		return Result{}
	}

	type outcome struct {
		org crm.Organization
		err error
	}
	outcomes := make([]outcome, len(ids))

	var g errgroup.Group
	if a.concurrency > 0 {
		g.SetLimit(a.concurrency)
	}
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			org, err := a.client.GetOrganization(ctx, id)
			outcomes[i] = outcome{org: org, err: err}
			// Per-task outcomes are collected; returning nil keeps the join from failing fast
			return nil
		})
	}
	_ = g.Wait()

	var result Result
	for i, o := range outcomes {
		if o.err != nil {
			result.Failed = append(result.Failed, ids[i])
			a.metrics.RecordFailure(crm.OpGetOrganization)
			a.logger.WithFields(map[string]interface{}{
				"org_id":    ids[i],
				"origin_id": req.Origin,
				"operation": crm.OpGetOrganization,
				"not_found": crm.IsNotFound(o.err),
			}).WithError(o.err).Warn("Skipping related organization")
			continue
		}
		result.Totals.Add(o.org)
		result.Fetched = append(result.Fetched, o.org)
	}
	return result
}
