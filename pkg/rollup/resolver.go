package rollup

import (
	"context"

	"github.com/platinummonkey/orgrollup/pkg/crm"
)

// RelationshipGetter reads organization relationships from the CRM
type RelationshipGetter interface {
	GetRelationships(ctx context.Context, id int64) ([]crm.Relationship, error)
}

// Resolver maps an organization to the ids of its related organizations
type Resolver struct {
	client RelationshipGetter
}

// NewResolver creates a new resolver
func NewResolver(client RelationshipGetter) *Resolver {
	return &Resolver{client: client}
}

// Resolve returns the deduplicated related organization ids in the order the
// CRM reported them. The same id may be listed under several names; the
// first occurrence wins. No relationships yields an empty slice.
func (r *Resolver) Resolve(ctx context.Context, orgID int64) ([]int64, error) {
	rels, err := r.client.GetRelationships(ctx, orgID)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(rels))
	ids := make([]int64, 0, len(rels))
	for _, rel := range rels {
		if _, dup := seen[rel.RelatedOrgID]; dup {
			continue
		}
		seen[rel.RelatedOrgID] = struct{}{}
		ids = append(ids, rel.RelatedOrgID)
	}
	return ids, nil
}
