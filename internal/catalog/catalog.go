package catalog

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"tagstream/internal/tag"
)

// Catalog is a static set of tags with synthetic values. It resolves tag
// names and serves snapshot reads, standing in for a pull-only data source.
type Catalog struct {
	defs   map[string]Definition // id -> definition
	byKey  map[string]string     // lower-cased id or name -> id
	order  []string
	epoch  time.Time
	now    func() time.Time
	randMu sync.Mutex
	rand   *rand.Rand
}

// Parse parses a catalog from YAML bytes
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	return New(f.Tags)
}

// Load loads a catalog from a file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}

	c, err := Parse(data)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{File: path, Message: err.Error()}
	}
	return c, nil
}

// New builds a catalog from definitions
func New(defs []Definition) (*Catalog, error) {
	c := &Catalog{
		defs:  make(map[string]Definition, len(defs)),
		byKey: make(map[string]string, len(defs)*2),
		order: make([]string, 0, len(defs)),
		epoch: time.Now(),
		now:   time.Now,
		rand:  rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x7a67)),
	}

	for i, d := range defs {
		if d.ID == "" {
			return nil, &LoadError{Message: fmt.Sprintf("tag %d: id is required", i)}
		}
		if _, ok := c.defs[d.ID]; ok {
			return nil, &LoadError{Message: fmt.Sprintf("tag %s: duplicate id", d.ID)}
		}
		if d.Name == "" {
			d.Name = d.ID
		}
		switch d.Kind {
		case "":
			d.Kind = KindConstant
		case KindConstant, KindSine, KindRamp, KindRandom:
		default:
			return nil, &LoadError{Message: fmt.Sprintf("tag %s: unknown kind %q", d.ID, d.Kind)}
		}
		if d.Period <= 0 {
			d.Period = DefaultPeriod
		}

		c.defs[d.ID] = d
		c.order = append(c.order, d.ID)
		c.byKey[strings.ToLower(d.ID)] = d.ID
		if key := strings.ToLower(d.Name); key != "" {
			if _, taken := c.byKey[key]; !taken {
				c.byKey[key] = d.ID
			}
		}
	}

	return c, nil
}

// Len returns the number of tags
func (c *Catalog) Len() int {
	return len(c.order)
}

// Tags returns every tag in catalog order
func (c *Catalog) Tags() []tag.Identifier {
	result := make([]tag.Identifier, len(c.order))
	for i, id := range c.order {
		result[i] = tag.New(id, c.defs[id].Name)
	}
	return result
}

// Search returns the tags whose ID or name contains query, sorted by ID
func (c *Catalog) Search(query string, limit int) []tag.Identifier {
	q := strings.ToLower(query)
	var result []tag.Identifier
	for _, id := range c.order {
		d := c.defs[id]
		if q != "" && !strings.Contains(strings.ToLower(d.ID), q) && !strings.Contains(strings.ToLower(d.Name), q) {
			continue
		}
		result = append(result, tag.New(d.ID, d.Name))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// Resolve implements tag.Resolver. IDs match before names, both case-insensitive.
func (c *Catalog) Resolve(ctx context.Context, caller *tag.Caller, namesOrIDs []string) ([]tag.Identifier, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := make([]tag.Identifier, 0, len(namesOrIDs))
	for _, key := range namesOrIDs {
		id, ok := c.byKey[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			continue
		}
		result = append(result, tag.New(id, c.defs[id].Name))
	}
	return result, nil
}

// ReadSnapshot implements polling.SnapshotReader. Unknown IDs are skipped.
func (c *Catalog) ReadSnapshot(ctx context.Context, caller *tag.Caller, tagIDs []string) ([]tag.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := c.now()
	result := make([]tag.Value, 0, len(tagIDs))
	for _, id := range tagIDs {
		d, ok := c.defs[id]
		if !ok {
			continue
		}
		v := tag.NewValue(tag.New(d.ID, d.Name), now, c.sample(d, now))
		if d.Units != "" || d.Description != "" {
			v.Properties = make(map[string]string, 2)
			if d.Units != "" {
				v.Properties["units"] = d.Units
			}
			if d.Description != "" {
				v.Properties["description"] = d.Description
			}
		}
		result = append(result, v)
	}
	return result, nil
}

// sample computes the value of d at now
func (c *Catalog) sample(d Definition, now time.Time) float64 {
	elapsed := now.Sub(c.epoch)
	phase := float64(elapsed%d.Period) / float64(d.Period)

	switch d.Kind {
	case KindSine:
		return d.Value + d.Amplitude*math.Sin(2*math.Pi*phase)
	case KindRamp:
		return d.Value + d.Amplitude*phase
	case KindRandom:
		c.randMu.Lock()
		r := c.rand.Float64()
		c.randMu.Unlock()
		return d.Value + d.Amplitude*(2*r-1)
	default:
		return d.Value
	}
}
