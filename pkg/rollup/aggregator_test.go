package rollup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/orgrollup/pkg/crm"
)

func TestAggregator_SumsFetchedOrganizations(t *testing.T) {
	f := newFakeCRM()
	f.addOrg(1, 10, 5, 2)
	f.addOrg(2, 20, 0, 1)
	f.addOrg(3, 7, 3, 4)

	seen := NewSeenSet()
	seen.Add(1)
	result := NewAggregator(f, 2, nil, nil).Aggregate(context.Background(), Request{Origin: 1, Related: []int64{2, 3}}, seen)

	assert.Equal(t, crm.Totals{Population: 27, Households: 3, Workforce: 5}, result.Totals)
	require.Len(t, result.Fetched, 2)
	assert.Equal(t, int64(2), result.Fetched[0].ID)
	assert.Equal(t, int64(3), result.Fetched[1].ID)
	assert.Empty(t, result.Failed)
	assert.Zero(t, f.getCalls[1], "origin is not fetched unless requested")
}

func TestAggregator_PartialFailure(t *testing.T) {
	f := newFakeCRM()
	f.addOrg(2, 20, 0, 1)
	f.addOrg(3, 5, 5, 5)
	f.failGet[3] = true

	result := NewAggregator(f, 0, nil, nil).Aggregate(context.Background(), Request{Origin: 1, Related: []int64{2, 3, 4}}, NewSeenSet())

	assert.Equal(t, crm.Totals{Population: 20, Households: 0, Workforce: 1}, result.Totals)
	require.Len(t, result.Fetched, 1)
	assert.Equal(t, int64(2), result.Fetched[0].ID)
	assert.ElementsMatch(t, []int64{3, 4}, result.Failed)
}

func TestAggregator_NullAttributesCountAsZero(t *testing.T) {
	f := newFakeCRM()
	f.orgs[2] = crm.Organization{ID: 2, Population: ptr(4)}
	f.orgs[3] = crm.Organization{ID: 3, Households: ptr(6)}

	result := NewAggregator(f, 4, nil, nil).Aggregate(context.Background(), Request{Origin: 1, Related: []int64{2, 3}}, NewSeenSet())
	assert.Equal(t, crm.Totals{Population: 4, Households: 6, Workforce: 0}, result.Totals)
}

func TestAggregator_SkipsClaimedIDs(t *testing.T) {
	f := newFakeCRM()
	f.addOrg(2, 1, 1, 1)
	f.addOrg(3, 2, 2, 2)

	seen := NewSeenSet()
	seen.Add(2)
	result := NewAggregator(f, 4, nil, nil).Aggregate(context.Background(), Request{Origin: 1, Related: []int64{2, 3}}, seen)

	assert.Equal(t, crm.Totals{Population: 2, Households: 2, Workforce: 2}, result.Totals)
	assert.Zero(t, f.getCalls[2])
	assert.True(t, seen.Has(3))
}

func TestAggregator_EmptyBatch(t *testing.T) {
	result := NewAggregator(newFakeCRM(), 4, nil, nil).Aggregate(context.Background(), Request{Origin: 1}, NewSeenSet())
	assert.Equal(t, crm.Totals{}, result.Totals)
	assert.Empty(t, result.Fetched)
	assert.Empty(t, result.Failed)
}

func TestBatchIDs(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want []int64
	}{
		{
			name: "origin excluded by default",
			req:  Request{Origin: 1, Related: []int64{2, 3}},
			want: []int64{2, 3},
		},
		{
			name: "origin included on request",
			req:  Request{Origin: 1, Related: []int64{2, 3}, IncludeOrigin: true},
			want: []int64{1, 2, 3},
		},
		{
			name: "self listed origin is included",
			req:  Request{Origin: 1, Related: []int64{2, 1}},
			want: []int64{1, 2},
		},
		{
			name: "include origin with no relations",
			req:  Request{Origin: 1, IncludeOrigin: true},
			want: []int64{1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen := NewSeenSet()
			seen.Add(tt.req.Origin)
			assert.Equal(t, tt.want, batchIDs(tt.req, seen))
		})
	}
}
