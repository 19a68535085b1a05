// Package catalog holds the building catalog: the fixed table of building
// types a player may construct and what each one costs.
package catalog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/tolelom/cipherforge/crypto"
)

// BuildingType identifies a kind of building.
type BuildingType uint32

// Entry is one catalog row.
type Entry struct {
	ID   BuildingType `yaml:"id" json:"id"`
	Name string       `yaml:"name" json:"name"`
	Cost uint64       `yaml:"cost" json:"cost"`
}

// Catalog is immutable once built; share it freely.
type Catalog struct {
	costs   map[BuildingType]uint64
	entries []Entry // sorted by ID
}

var (
	ErrEmpty       = errors.New("catalog: no entries")
	ErrInvalidID   = errors.New("catalog: building id must be > 0")
	ErrInvalidCost = errors.New("catalog: building cost must be > 0")
	ErrDuplicateID = errors.New("catalog: duplicate building id")
)

// New validates entries and builds a Catalog from them.
func New(entries []Entry) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, ErrEmpty
	}
	c := &Catalog{costs: make(map[BuildingType]uint64, len(entries))}
	for _, e := range entries {
		if e.ID == 0 {
			return nil, ErrInvalidID
		}
		if e.Cost == 0 {
			return nil, fmt.Errorf("%w: id %d", ErrInvalidCost, e.ID)
		}
		if _, dup := c.costs[e.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateID, e.ID)
		}
		c.costs[e.ID] = e.Cost
		c.entries = append(c.entries, e)
	}
	sort.Slice(c.entries, func(i, j int) bool { return c.entries[i].ID < c.entries[j].ID })
	return c, nil
}

// Default returns the stock catalog: Base, Barracks and Farm.
func Default() *Catalog {
	c, err := New([]Entry{
		{ID: 1, Name: "Base", Cost: 100},
		{ID: 2, Name: "Barracks", Cost: 10},
		{ID: 3, Name: "Farm", Cost: 10},
	})
	if err != nil {
		panic(err)
	}
	return c
}

type file struct {
	Buildings []Entry `yaml:"buildings"`
}

// Load reads a YAML catalog of the form:
//
//	buildings:
//	  - {id: 1, name: Base, cost: 100}
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return New(f.Buildings)
}

// Cost returns the price of t and whether t is in the catalog.
func (c *Catalog) Cost(t BuildingType) (uint64, bool) {
	cost, ok := c.costs[t]
	return cost, ok
}

// Entries returns a copy of the rows ordered by ID.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Fingerprint is a stable hash over (id, cost) pairs. Names are cosmetic and
// excluded.
func (c *Catalog) Fingerprint() string {
	buf := make([]byte, 0, len(c.entries)*12)
	for _, e := range c.entries {
		buf = binary.BigEndian.AppendUint32(buf, uint32(e.ID))
		buf = binary.BigEndian.AppendUint64(buf, e.Cost)
	}
	return crypto.Hash(buf)
}
