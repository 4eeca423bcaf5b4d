package rollup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/platinummonkey/orgrollup/pkg/crm"
)

var errFakeUpstream = &crm.UpstreamError{Op: "fake", StatusCode: 500, Message: "boom"}

// fakeCRM is an in-memory RecordClient
type fakeCRM struct {
	mu sync.Mutex

	orgs      map[int64]crm.Organization
	relations map[int64][]crm.Relationship

	failGet       map[int64]bool
	failUpdate    map[int64]bool
	failRelations map[int64]bool
	// failListAt fails the nth list call (1-based); zero disables
	failListAt int

	listCalls     int
	getCalls      map[int64]int
	relationCalls map[int64]int
	updates       map[int64][]crm.Totals

	// block, when set, holds every list call until closed
	block chan struct{}
	// entered receives a value when a list call starts waiting on block
	entered chan struct{}
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		orgs:          map[int64]crm.Organization{},
		relations:     map[int64][]crm.Relationship{},
		failGet:       map[int64]bool{},
		failUpdate:    map[int64]bool{},
		failRelations: map[int64]bool{},
		getCalls:      map[int64]int{},
		relationCalls: map[int64]int{},
		updates:       map[int64][]crm.Totals{},
	}
}

func ptr(v int64) *int64 { return &v }

func (f *fakeCRM) addOrg(id, pop, hh, fte int64) {
	f.orgs[id] = crm.Organization{
		ID:         id,
		Name:       fmt.Sprintf("org-%d", id),
		Population: ptr(pop),
		Households: ptr(hh),
		Workforce:  ptr(fte),
	}
}

func (f *fakeCRM) relate(src int64, related ...int64) {
	for _, id := range related {
		f.relations[src] = append(f.relations[src], crm.Relationship{
			SourceOrgID:    src,
			RelatedOrgID:   id,
			RelatedOrgName: fmt.Sprintf("org-%d", id),
		})
	}
}

func (f *fakeCRM) sortedIDs() []int64 {
	ids := make([]int64, 0, len(f.orgs))
	for id := range f.orgs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (f *fakeCRM) ListOrganizations(ctx context.Context, cursor crm.Cursor) ([]crm.Organization, crm.Cursor, error) {
	if f.block != nil {
		if f.entered != nil {
			select {
			case f.entered <- struct{}{}:
			default:
			}
		}
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, cursor, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.failListAt > 0 && f.listCalls == f.failListAt {
		return nil, cursor, errFakeUpstream
	}

	ids := f.sortedIDs()
	if cursor.Start >= len(ids) {
		return nil, crm.Cursor{Start: cursor.Start, Limit: cursor.Limit, More: false}, nil
	}
	end := cursor.Start + cursor.Limit
	if end > len(ids) {
		end = len(ids)
	}
	page := make([]crm.Organization, 0, end-cursor.Start)
	for _, id := range ids[cursor.Start:end] {
		page = append(page, f.orgs[id])
	}
	return page, crm.Cursor{Start: cursor.Start, Limit: cursor.Limit, More: end < len(ids)}, nil
}

func (f *fakeCRM) GetOrganization(ctx context.Context, id int64) (crm.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls[id]++
	if f.failGet[id] {
		return crm.Organization{}, errFakeUpstream
	}
	org, ok := f.orgs[id]
	if !ok {
		return crm.Organization{}, fmt.Errorf("organization %d: %w", id, crm.ErrNotFound)
	}
	return org, nil
}

func (f *fakeCRM) GetRelationships(ctx context.Context, id int64) ([]crm.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relationCalls[id]++
	if f.failRelations[id] {
		return nil, errFakeUpstream
	}
	return append([]crm.Relationship{}, f.relations[id]...), nil
}

func (f *fakeCRM) UpdateOrganizationTotals(ctx context.Context, id int64, totals crm.Totals) (crm.UpdateAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate[id] {
		return crm.UpdateAck{}, errors.New("write rejected")
	}
	f.updates[id] = append(f.updates[id], totals)
	return crm.UpdateAck{ID: id}, nil
}

func (f *fakeCRM) updatedIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int64, 0, len(f.updates))
	for id := range f.updates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
