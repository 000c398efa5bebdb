// Package plans implements plan-based admission control: usage is compared
// against subscription limits before a new unit of work is allowed.
package plans

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultTier is assumed for organizations with no recognized plan tier.
const DefaultTier = "free"

// Limits holds the per-tier quota values.
type Limits struct {
	MaxReceiptsPerPeriod int `yaml:"max_receipts_per_period"`
	MaxDestinations      int `yaml:"max_destinations"`
}

// Table maps plan tier names to their limits.
type Table map[string]Limits

// DefaultTable returns the built-in plan table.
func DefaultTable() Table {
	return Table{
		"free":     {MaxReceiptsPerPeriod: 50, MaxDestinations: 2},
		"starter":  {MaxReceiptsPerPeriod: 500, MaxDestinations: 5},
		"business": {MaxReceiptsPerPeriod: 5000, MaxDestinations: 20},
	}
}

// LoadTable reads a plan table from a YAML file, merged over the defaults so
// an override file only needs to name the tiers it changes.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan table: %w", err)
	}

	var overrides Table
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse plan table: %w", err)
	}

	table := DefaultTable()
	for tier, limits := range overrides {
		table[tier] = limits
	}

	return table, nil
}

// Limits returns the limits for a tier, falling back to the default tier for
// unknown names.
func (t Table) Limits(tier string) Limits {
	if limits, ok := t[tier]; ok {
		return limits
	}
	return t[DefaultTier]
}
