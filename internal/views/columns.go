package views

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/callscope/callscope/internal/filter"
)

// VisibleColumns lists the columns shown per category. Keys other than the
// four known categories are kept in Extra and written back unchanged, so
// views saved by newer clients survive a round trip.
type VisibleColumns struct {
	Basic         []string
	Metadata      []string
	Transcription []string
	Metrics       []string
	Extra         map[string]json.RawMessage
}

var knownCategories = []filter.Category{
	filter.CategoryBasic,
	filter.CategoryMetadata,
	filter.CategoryTranscription,
	filter.CategoryMetrics,
}

// For returns the visible columns of one category.
func (c VisibleColumns) For(category filter.Category) []string {
	if p := c.slot(category); p != nil {
		return *p
	}

	return nil
}

// Set replaces the visible columns of one known category. An empty list is
// stored as nil.
func (c *VisibleColumns) Set(category filter.Category, columns []string) {
	p := c.slot(category)
	if p == nil {
		return
	}

	if len(columns) == 0 {
		*p = nil

		return
	}

	*p = slices.Clone(columns)
}

func (c *VisibleColumns) slot(category filter.Category) *[]string {
	switch category {
	case filter.CategoryBasic:
		return &c.Basic
	case filter.CategoryMetadata:
		return &c.Metadata
	case filter.CategoryTranscription:
		return &c.Transcription
	case filter.CategoryMetrics:
		return &c.Metrics
	default:
		return nil
	}
}

// Clone returns a deep copy.
func (c VisibleColumns) Clone() VisibleColumns {
	out := VisibleColumns{
		Basic:         slices.Clone(c.Basic),
		Metadata:      slices.Clone(c.Metadata),
		Transcription: slices.Clone(c.Transcription),
		Metrics:       slices.Clone(c.Metrics),
	}

	if c.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = slices.Clone(v)
		}
	}

	return out
}

// MarshalJSON writes the known categories as arrays (never null) followed by
// the preserved extra keys.
func (c VisibleColumns) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(knownCategories)+len(c.Extra))

	for k, v := range c.Extra {
		out[k] = v
	}

	for _, category := range knownCategories {
		cols := c.For(category)
		if cols == nil {
			cols = []string{}
		}

		out[string(category)] = cols
	}

	return json.Marshal(out)
}

// UnmarshalJSON reads the known categories and keeps every other key.
func (c *VisibleColumns) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var decoded VisibleColumns

	for _, category := range knownCategories {
		msg, ok := raw[string(category)]
		if !ok {
			continue
		}

		var cols []string
		if err := json.Unmarshal(msg, &cols); err != nil {
			return err
		}

		decoded.Set(category, cols)
		delete(raw, string(category))
	}

	if len(raw) > 0 {
		decoded.Extra = maps.Clone(raw)
	}

	*c = decoded

	return nil
}
