package crm

// Organization is a CRM organization record with its three tracked attributes.
// A nil attribute means the CRM field is absent or null.
type Organization struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Address    string `json:"address,omitempty"`
	Population *int64 `json:"population,omitempty"`
	Households *int64 `json:"households,omitempty"`
	Workforce  *int64 `json:"workforce,omitempty"`
}

// Relationship is a directed link between two organizations as reported by the CRM
type Relationship struct {
	SourceOrgID    int64  `json:"source_org_id"`
	RelatedOrgID   int64  `json:"related_org_id"`
	RelatedOrgName string `json:"related_org_name"`
}

// Cursor is the pagination state returned by the CRM and fed back into the next list call
type Cursor struct {
	Start int  `json:"start"`
	Limit int  `json:"limit"`
	More  bool `json:"more_items_in_collection"`
}

// Next returns the cursor for the following page. Advancement is positional.
func (c Cursor) Next() Cursor {
	return Cursor{Start: c.Start + c.Limit, Limit: c.Limit, More: c.More}
}

// Totals is the set of aggregated attribute values written back onto an organization
type Totals struct {
	Population int64 `json:"population"`
	Households int64 `json:"households"`
	Workforce  int64 `json:"workforce"`
}

// UpdateAck acknowledges a totals write-back
type UpdateAck struct {
	ID int64 `json:"id"`
}

func valueOrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// Add adds the organization's attributes to the totals, treating nil as zero
func (t *Totals) Add(org Organization) {
	t.Population += valueOrZero(org.Population)
	t.Households += valueOrZero(org.Households)
	t.Workforce += valueOrZero(org.Workforce)
}
