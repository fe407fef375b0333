// Package catalog holds the immutable, process-wide event catalog (spec.md
// data model "Event definition"), loaded once from an embedded YAML
// document so designers can edit event parameters without touching code,
// the way roach88-nysm's scenario definitions are yaml-configured rather
// than hardcoded.
package catalog

import (
	"context"
	"embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"raceline/logging"
)

// Category is one of the four event families spec.md names.
type Category string

const (
	CategoryPowerup       Category = "powerup"
	CategoryCombat        Category = "combat"
	CategoryEnvironmental Category = "environmental"
	CategoryChaos         Category = "chaos"
)

// Entry is one immutable catalog entry.
type Entry struct {
	ID                    string   `yaml:"id" jsonschema:"required,description=Stable catalog event id"`
	Category              Category `yaml:"category" jsonschema:"required,enum=powerup,enum=combat,enum=environmental,enum=chaos"`
	DurationTicks         int      `yaml:"durationTicks"`
	MaxOccurrencesPerRace int      `yaml:"maxOccurrencesPerRace" jsonschema:"required"`
	MaxConcurrent         int      `yaml:"maxConcurrent" jsonschema:"required"`
	ConflictsWith         []string `yaml:"conflictsWith"`
	AffectsMultipleHorses bool     `yaml:"affectsMultipleHorses"`
	RemovesHorse          bool     `yaml:"removesHorse"`
	ExclusivePerHorse     bool     `yaml:"exclusivePerHorse"`
}

// Catalog is the immutable, process-wide set of entries, indexed by id.
type Catalog struct {
	entries []Entry
	byID    map[string]Entry
}

//go:embed catalog.yaml
var defaultCatalogYAML embed.FS

// Default loads the shipped catalog, logging (never failing on) any
// asymmetric conflict pair it finds, per spec.md §9's resolved open
// question: catalog conflict asymmetry is a build-time warning.
func Default(pub logging.Publisher) (*Catalog, error) {
	data, err := defaultCatalogYAML.ReadFile("catalog.yaml")
	if err != nil {
		return nil, fmt.Errorf("catalog: read embedded catalog: %w", err)
	}
	return Load(data, pub)
}

// Load parses a YAML catalog document and validates it.
func Load(data []byte, pub logging.Publisher) (*Catalog, error) {
	var doc struct {
		Entries []Entry `yaml:"entries"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	if len(doc.Entries) == 0 {
		return nil, fmt.Errorf("catalog: no entries")
	}

	sort.Slice(doc.Entries, func(i, j int) bool { return doc.Entries[i].ID < doc.Entries[j].ID })

	c := &Catalog{entries: doc.Entries, byID: make(map[string]Entry, len(doc.Entries))}
	for _, e := range doc.Entries {
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate entry id %q", e.ID)
		}
		c.byID[e.ID] = e
	}

	c.warnAsymmetricConflicts(pub)
	return c, nil
}

// warnAsymmetricConflicts logs (never fails) any conflictsWith pair that is
// not declared symmetrically, per spec.md §9 ii.
func (c *Catalog) warnAsymmetricConflicts(pub logging.Publisher) {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	for _, e := range c.entries {
		for _, otherID := range e.ConflictsWith {
			other, ok := c.byID[otherID]
			if !ok {
				continue
			}
			if !contains(other.ConflictsWith, e.ID) {
				pub.Publish(context.Background(), logging.Event{
					Type:     "catalog.asymmetric_conflict",
					Severity: logging.SeverityWarn,
					Category: logging.CategoryScheduler,
					Payload: map[string]string{
						"from": e.ID,
						"to":   otherID,
					},
				})
			}
		}
	}
}

func contains(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

// Entries returns the catalog entries sorted by id.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lookup returns an entry by id.
func (c *Catalog) Lookup(id string) (Entry, bool) {
	e, ok := c.byID[id]
	return e, ok
}
