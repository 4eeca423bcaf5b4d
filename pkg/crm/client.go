package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/orgrollup/pkg/observability"
)

// Operation names used in errors, logs and metrics
const (
	OpListOrganizations = "list_organizations"
	OpGetOrganization   = "get_organization"
	OpGetRelationships  = "get_relationships"
	OpUpdateTotals      = "update_totals"
)

// Limiter is consumed once per completed CRM round trip
type Limiter interface {
	Done(ctx context.Context) error
}

// Config holds CRM client configuration
type Config struct {
	BaseURL string
	// APIToken is sent as the api_token query parameter
	APIToken string
	// AccessToken, when set, is sent as an OAuth2 bearer token instead
	AccessToken string
	Timeout     time.Duration
	Fields      FieldMapping
	Retry       RetryConfig
}

// DefaultConfig returns the default CRM client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://api.pipedrive.com/v1",
		Timeout: 30 * time.Second,
		Fields:  DefaultFieldMapping(),
		Retry:   DefaultRetryConfig(),
	}
}

// Client is a stateless wrapper around the CRM organization endpoints
type Client struct {
	baseURL  *url.URL
	apiToken string
	fields   FieldMapping
	http     *http.Client
	retry    *RetryPolicy
	limiter  Limiter
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLimiter sets the limiter consumed after every completed round trip
func WithLimiter(l Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger sets the client logger
func WithLogger(l *observability.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a new CRM client
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("crm base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid crm base URL: %w", err)
	}
	if cfg.APIToken == "" && cfg.AccessToken == "" {
		return nil, fmt.Errorf("crm API token or access token is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Fields == (FieldMapping{}) {
		cfg.Fields = DefaultFieldMapping()
	}

	var transport http.RoundTripper = otelhttp.NewTransport(http.DefaultTransport)
	apiToken := cfg.APIToken
	if cfg.AccessToken != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"}),
			Base:   transport,
		}
		apiToken = ""
	}

	c := &Client{
		baseURL:  base,
		apiToken: apiToken,
		fields:   cfg.Fields,
		http:     &http.Client{Transport: transport, Timeout: cfg.Timeout},
		retry:    NewRetryPolicy(cfg.Retry),
		logger:   observability.NewLogger(observability.InfoLevel, nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListOrganizations returns one page of organizations and the cursor reported by the CRM
func (c *Client) ListOrganizations(ctx context.Context, cursor Cursor) ([]Organization, Cursor, error) {
	query := url.Values{}
	query.Set("start", strconv.Itoa(cursor.Start))
	query.Set("limit", strconv.Itoa(cursor.Limit))

	status, body, err := c.roundTrip(ctx, OpListOrganizations, http.MethodGet, "/organizations", query, nil)
	if err != nil {
		return nil, cursor, err
	}
	if status != http.StatusOK {
		return nil, cursor, &UpstreamError{Op: OpListOrganizations, StatusCode: status, Message: snippet(body)}
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, cursor, &UpstreamError{Op: OpListOrganizations, StatusCode: status, Message: "unexpected response format", Err: err}
	}
	dataRaw, ok := envelope["data"]
	if !ok {
		return nil, cursor, &UpstreamError{Op: OpListOrganizations, StatusCode: status, Message: "unexpected response format: missing data"}
	}

	// The CRM reports an exhausted collection as "data": null
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(dataRaw, &items); err != nil {
		return nil, cursor, &UpstreamError{Op: OpListOrganizations, StatusCode: status, Message: "unexpected response format", Err: err}
	}

	orgs := make([]Organization, 0, len(items))
	for _, item := range items {
		org, err := c.fields.decodeOrganization(item)
		if err != nil {
			return nil, cursor, &UpstreamError{Op: OpListOrganizations, StatusCode: status, Message: "malformed organization", Err: err}
		}
		orgs = append(orgs, org)
	}

	next := Cursor{Start: cursor.Start, Limit: cursor.Limit, More: true}
	var additional struct {
		Pagination struct {
			Start *int  `json:"start"`
			Limit *int  `json:"limit"`
			More  *bool `json:"more_items_in_collection"`
		} `json:"pagination"`
	}
	if raw, ok := envelope["additional_data"]; ok {
		if err := json.Unmarshal(raw, &additional); err != nil {
			return nil, cursor, &UpstreamError{Op: OpListOrganizations, StatusCode: status, Message: "malformed pagination", Err: err}
		}
	}
	if p := additional.Pagination; p.Start != nil {
		next.Start = *p.Start
	}
	if p := additional.Pagination; p.Limit != nil && *p.Limit > 0 {
		next.Limit = *p.Limit
	}
	if p := additional.Pagination; p.More != nil {
		next.More = *p.More
	}

	return orgs, next, nil
}

// GetOrganization fetches a single organization
func (c *Client) GetOrganization(ctx context.Context, id int64) (Organization, error) {
	endpoint := fmt.Sprintf("/organizations/%d", id)
	status, body, err := c.roundTrip(ctx, OpGetOrganization, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return Organization{}, err
	}
	if status == http.StatusNotFound {
		return Organization{}, fmt.Errorf("organization %d: %w", id, ErrNotFound)
	}
	if status != http.StatusOK {
		return Organization{}, &UpstreamError{Op: OpGetOrganization, StatusCode: status, Message: snippet(body)}
	}

	var envelope struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Organization{}, &UpstreamError{Op: OpGetOrganization, StatusCode: status, Message: "unexpected response format", Err: err}
	}
	if len(envelope.Data) == 0 {
		return Organization{}, fmt.Errorf("organization %d: %w", id, ErrNotFound)
	}

	org, err := c.fields.decodeOrganization(envelope.Data)
	if err != nil {
		return Organization{}, &UpstreamError{Op: OpGetOrganization, StatusCode: status, Message: "malformed organization", Err: err}
	}
	return org, nil
}

// GetRelationships returns the organizations linked to the given organization.
// A 404 means the organization has no links and yields an empty slice.
func (c *Client) GetRelationships(ctx context.Context, id int64) ([]Relationship, error) {
	query := url.Values{}
	query.Set("org_id", strconv.FormatInt(id, 10))

	status, body, err := c.roundTrip(ctx, OpGetRelationships, http.MethodGet, "/organizationRelationships", query, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return []Relationship{}, nil
	}
	if status != http.StatusOK {
		return nil, &UpstreamError{Op: OpGetRelationships, StatusCode: status, Message: snippet(body)}
	}

	var envelope struct {
		RelatedObjects *struct {
			Organization map[string]struct {
				Name string `json:"name"`
			} `json:"organization"`
		} `json:"related_objects"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &UpstreamError{Op: OpGetRelationships, StatusCode: status, Message: "unexpected response format", Err: err}
	}
	if envelope.RelatedObjects == nil {
		return []Relationship{}, nil
	}

	rels := make([]Relationship, 0, len(envelope.RelatedObjects.Organization))
	for key, details := range envelope.RelatedObjects.Organization {
		relatedID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, &UpstreamError{Op: OpGetRelationships, StatusCode: status, Message: "malformed organization id " + key, Err: err}
		}
		rels = append(rels, Relationship{
			SourceOrgID:    id,
			RelatedOrgID:   relatedID,
			RelatedOrgName: details.Name,
		})
	}
	sort.Slice(rels, func(i, j int) bool {
		return rels[i].RelatedOrgID < rels[j].RelatedOrgID
	})
	return rels, nil
}

// UpdateOrganizationTotals writes rollup totals onto an organization
func (c *Client) UpdateOrganizationTotals(ctx context.Context, id int64, totals Totals) (UpdateAck, error) {
	endpoint := fmt.Sprintf("/organizations/%d", id)
	status, body, err := c.roundTrip(ctx, OpUpdateTotals, http.MethodPut, endpoint, nil, c.fields.totalsPayload(totals))
	if err != nil {
		return UpdateAck{}, err
	}
	if status < 200 || status > 299 {
		return UpdateAck{}, &UpstreamError{Op: OpUpdateTotals, StatusCode: status, Message: fmt.Sprintf("failed to update organization %d: %s", id, snippet(body))}
	}

	ack := UpdateAck{ID: id}
	var envelope struct {
		Data *struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Data != nil && envelope.Data.ID != 0 {
		ack.ID = envelope.Data.ID
	}
	return ack, nil
}

// roundTrip performs a request with retries. It returns the final status and
// body for completed responses; err is set only when no usable response exists.
func (c *Client) roundTrip(ctx context.Context, op, method, endpoint string, query url.Values, payload interface{}) (int, []byte, error) {
	var reqBody []byte
	if payload != nil {
		var err error
		reqBody, err = json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode %s request: %w", op, err)
		}
	}

	for attempt := 1; ; attempt++ {
		status, body, err := c.attempt(ctx, op, method, endpoint, query, reqBody)

		failure := err
		if failure == nil && (status == http.StatusTooManyRequests || status >= 500) {
			failure = &UpstreamError{Op: op, StatusCode: status}
		}
		if ctx.Err() != nil || !c.retry.ShouldRetry(attempt, failure) {
			return status, body, err
		}

		c.metrics.RecordCRMRetry(op)
		c.logger.WithFields(map[string]interface{}{
			"operation": op,
			"attempt":   attempt,
			"status":    status,
		}).WithError(failure).Warn("CRM request failed, retrying")

		if waitErr := c.retry.Wait(ctx, attempt); waitErr != nil {
			return 0, nil, &UpstreamError{Op: op, Message: "retry aborted", Err: waitErr}
		}
	}
}

func (c *Client) attempt(ctx context.Context, op, method, endpoint string, query url.Values, reqBody []byte) (int, []byte, error) {
	u := *c.baseURL
	u.Path = c.baseURL.Path + endpoint
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	if c.apiToken != "" {
		q.Set("api_token", c.apiToken)
	}
	u.RawQuery = q.Encode()

	var bodyReader io.Reader
	if reqBody != nil {
		bodyReader = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordCRMRequest(op, "error", time.Since(start))
		return 0, nil, &UpstreamError{Op: op, Err: err}
	}
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	c.metrics.RecordCRMRequest(op, strconv.Itoa(resp.StatusCode), time.Since(start))

	if c.limiter != nil {
		if err := c.limiter.Done(ctx); err != nil {
			return 0, nil, &UpstreamError{Op: op, Message: "rate limiter aborted", Err: err}
		}
	}

	if readErr != nil {
		return 0, nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode, Message: "failed to read response", Err: readErr}
	}
	return resp.StatusCode, body, nil
}

// snippet trims a response body for inclusion in error messages
func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
