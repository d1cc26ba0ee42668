package tag

import (
	"context"
	"strings"
	"time"
)

// Identifier is a resolved, canonical tag reference. Two identifiers are the
// same tag when their IDs match; Name is display metadata only.
type Identifier struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// New creates a new Identifier
func New(id, name string) Identifier {
	return Identifier{ID: id, Name: name}
}

// Equal reports whether both identifiers refer to the same tag
func (t Identifier) Equal(other Identifier) bool {
	return t.ID == other.ID
}

// IsZero returns true if the identifier has no ID
func (t Identifier) IsZero() bool {
	return t.ID == ""
}

// Matches returns true if nameOrID refers to this tag, either by exact ID or
// by case-insensitive name
func (t Identifier) Matches(nameOrID string) bool {
	return t.ID == nameOrID || strings.EqualFold(t.Name, nameOrID)
}

func (t Identifier) String() string {
	if t.Name == "" || t.Name == t.ID {
		return t.ID
	}
	return t.Name + " (" + t.ID + ")"
}

// Quality describes how trustworthy a value is
type Quality string

const (
	QualityGood      Quality = "good"
	QualityUncertain Quality = "uncertain"
	QualityBad       Quality = "bad"
)

// Value is a single value update for a tag. Values are never modified after
// they are created; the dispatcher only looks at Tag.
type Value struct {
	Tag        Identifier        `json:"tag"`
	Timestamp  time.Time         `json:"timestamp"`
	Value      any               `json:"value"`
	Quality    Quality           `json:"quality"`
	Properties map[string]string `json:"properties,omitempty"`
}

// NewValue creates a good-quality value
func NewValue(t Identifier, ts time.Time, v any) Value {
	return Value{
		Tag:       t,
		Timestamp: ts,
		Value:     v,
		Quality:   QualityGood,
	}
}

// Caller identifies who is acting. It is opaque to the engine and only used
// for attribution in logs and by resolvers and data sources.
type Caller struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Valid returns true if the caller is usable
func (c *Caller) Valid() bool {
	return c != nil && c.ID != ""
}

func (c *Caller) String() string {
	if c == nil {
		return "<nil>"
	}
	if c.Name == "" {
		return c.ID
	}
	return c.Name + "/" + c.ID
}

// Resolver maps free-form names or IDs to canonical identifiers. Entries
// that cannot be resolved are simply missing from the result.
type Resolver interface {
	Resolve(ctx context.Context, caller *Caller, namesOrIDs []string) ([]Identifier, error)
}

// ResolverFunc adapts a function to the Resolver interface
type ResolverFunc func(ctx context.Context, caller *Caller, namesOrIDs []string) ([]Identifier, error)

// Resolve implements Resolver
func (f ResolverFunc) Resolve(ctx context.Context, caller *Caller, namesOrIDs []string) ([]Identifier, error) {
	return f(ctx, caller, namesOrIDs)
}

// Dedup returns tags with duplicate IDs removed, keeping the first occurrence
func Dedup(tags []Identifier) []Identifier {
	seen := make(map[string]struct{}, len(tags))
	result := make([]Identifier, 0, len(tags))
	for _, t := range tags {
		if t.IsZero() {
			continue
		}
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		result = append(result, t)
	}
	return result
}

// IDs returns the IDs of the given tags
func IDs(tags []Identifier) []string {
	ids := make([]string, len(tags))
	for i, t := range tags {
		ids[i] = t.ID
	}
	return ids
}
