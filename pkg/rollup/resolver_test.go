package rollup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/orgrollup/pkg/crm"
)

func TestResolver_Resolve(t *testing.T) {
	t.Run("deduplicates keeping first occurrence", func(t *testing.T) {
		f := newFakeCRM()
		f.relate(1, 3, 2, 3)
		f.relations[1] = append(f.relations[1], crm.Relationship{SourceOrgID: 1, RelatedOrgID: 2, RelatedOrgName: "alias"})

		ids, err := NewResolver(f).Resolve(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, []int64{3, 2}, ids)
	})

	t.Run("no relationships yields empty slice", func(t *testing.T) {
		ids, err := NewResolver(newFakeCRM()).Resolve(context.Background(), 7)
		require.NoError(t, err)
		assert.NotNil(t, ids)
		assert.Empty(t, ids)
	})

	t.Run("propagates upstream errors", func(t *testing.T) {
		f := newFakeCRM()
		f.failRelations[1] = true

		_, err := NewResolver(f).Resolve(context.Background(), 1)
		require.Error(t, err)
		assert.True(t, crm.IsUpstream(err))
	})
}
