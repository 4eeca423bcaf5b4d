// Package crm is a client for the organization endpoints of a Pipedrive-style CRM.
//
// # Overview
//
// The client lists organizations page by page, fetches single organizations,
// reads organization relationships and writes rollup totals back onto
// organizations. Tracked attributes live in account-specific custom fields
// described by a FieldMapping.
//
// # Error Handling
//
//   - ErrNotFound: the CRM has no such organization (check with IsNotFound)
//   - *UpstreamError: non-2xx status or malformed payload (check with IsUpstream)
//
// A 404 from the relationships endpoint is not an error; it means the
// organization has no links.
//
// # Retries and Rate Limiting
//
// Transport errors, 429 and 5xx responses are retried with exponential
// backoff. Every completed round trip is reported to the configured Limiter,
// which may pause the caller.
//
// # Usage Example
//
//	client, err := crm.NewClient(crm.Config{
//		BaseURL:  "https://api.pipedrive.com/v1",
//		APIToken: token,
//	}, crm.WithLimiter(ratelimit.NewCounter(ratelimit.DefaultConfig())))
//
//	orgs, next, err := client.ListOrganizations(ctx, crm.Cursor{Start: 0, Limit: 100})
package crm
