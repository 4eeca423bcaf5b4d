package crm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldMapping maps the tracked attributes onto CRM custom-field keys.
// Custom field keys are account specific hashes generated by the CRM.
type FieldMapping struct {
	// Source attributes read from each organization
	Population string `yaml:"population"`
	Households string `yaml:"households"`
	Workforce  string `yaml:"workforce"`

	// Destination fields receiving the rollup totals
	TotalPopulation string `yaml:"total_population"`
	TotalHouseholds string `yaml:"total_households"`
	TotalWorkforce  string `yaml:"total_workforce"`
}

// DefaultFieldMapping returns the custom-field keys of the production CRM account
func DefaultFieldMapping() FieldMapping {
	return FieldMapping{
		Population:      "ff657a191c25a9f57f6ee2186961198be9a77aaa",
		Households:      "d54693358b3240110f7a963b45a9226bb3e41e30",
		Workforce:       "5466322ffc600fa0d94bc88bb0a361de57035546",
		TotalPopulation: "f694db99056280fa7287ec6e969531925d9281e0",
		TotalHouseholds: "127511af7a0623e3b19f9ae5be3ae9d8f7651dca",
		TotalWorkforce:  "70db755cdb252a09b19905a85e51d98523d96673",
	}
}

// LoadFieldMapping reads a YAML field mapping file. Keys left empty in the
// file keep their default values.
func LoadFieldMapping(path string) (FieldMapping, error) {
	mapping := DefaultFieldMapping()
	if path == "" {
		return mapping, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return mapping, fmt.Errorf("failed to read field mapping: %w", err)
	}

	var override FieldMapping
	if err := yaml.Unmarshal(data, &override); err != nil {
		return mapping, fmt.Errorf("failed to parse field mapping: %w", err)
	}

	mapping.merge(override)
	if err := mapping.Validate(); err != nil {
		return mapping, err
	}
	return mapping, nil
}

func (m *FieldMapping) merge(o FieldMapping) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&m.Population, o.Population)
	set(&m.Households, o.Households)
	set(&m.Workforce, o.Workforce)
	set(&m.TotalPopulation, o.TotalPopulation)
	set(&m.TotalHouseholds, o.TotalHouseholds)
	set(&m.TotalWorkforce, o.TotalWorkforce)
}

// Validate checks that no two attributes share a field key
func (m FieldMapping) Validate() error {
	keys := map[string]string{}
	for name, key := range map[string]string{
		"population":       m.Population,
		"households":       m.Households,
		"workforce":        m.Workforce,
		"total_population": m.TotalPopulation,
		"total_households": m.TotalHouseholds,
		"total_workforce":  m.TotalWorkforce,
	} {
		if key == "" {
			return fmt.Errorf("field mapping: %s key is required", name)
		}
		if other, dup := keys[key]; dup {
			return fmt.Errorf("field mapping: %s and %s share key %s", name, other, key)
		}
		keys[key] = name
	}
	return nil
}

// totalsPayload builds the write-back request body
func (m FieldMapping) totalsPayload(t Totals) map[string]int64 {
	return map[string]int64{
		m.TotalPopulation: t.Population,
		m.TotalHouseholds: t.Households,
		m.TotalWorkforce:  t.Workforce,
	}
}

// decodeOrganization converts a raw CRM organization object
func (m FieldMapping) decodeOrganization(raw map[string]json.RawMessage) (Organization, error) {
	var org Organization

	idRaw, ok := raw["id"]
	if !ok {
		return org, fmt.Errorf("organization is missing id")
	}
	if err := json.Unmarshal(idRaw, &org.ID); err != nil {
		return org, fmt.Errorf("invalid organization id: %w", err)
	}
	if nameRaw, ok := raw["name"]; ok {
		_ = json.Unmarshal(nameRaw, &org.Name)
	}
	if addrRaw, ok := raw["address"]; ok {
		_ = json.Unmarshal(addrRaw, &org.Address)
	}

	org.Population = parseAttribute(raw[m.Population])
	org.Households = parseAttribute(raw[m.Households])
	org.Workforce = parseAttribute(raw[m.Workforce])
	return org, nil
}

// parseAttribute accepts a JSON number, a numeric string, an empty string or null.
// Anything that is not a non-negative count is reported as absent.
func parseAttribute(raw json.RawMessage) *int64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil
		}
		text = strings.TrimSpace(text)
	}

	if v, err := strconv.ParseInt(text, 10, 64); err == nil {
		if v < 0 {
			return nil
		}
		return &v
	}
	// Numeric custom fields are sometimes reported as decimals, e.g. 1200.0
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || f < 0 || f >= float64(math.MaxInt64) {
		return nil
	}
	v := int64(f)
	return &v
}
