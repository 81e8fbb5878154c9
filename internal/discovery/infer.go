// Package discovery builds the per-agent catalog of fields present in call
// logs by sampling recent records, including the keys found inside JSONB
// columns.
package discovery

import (
	"regexp"
	"sort"
	"time"

	"github.com/callscope/callscope/internal/filter"
	"github.com/callscope/callscope/internal/jsonvalue"
)

// FieldType is the inferred type of a discovered field.
type FieldType string

// Field types.
const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldDate    FieldType = "date"
	FieldObject  FieldType = "object"
	FieldArray   FieldType = "array"
)

const maxSampleValues = 5

// FieldInfo describes one discovered field. Path is either a column name or
// column.key for a key inside a JSONB column.
type FieldInfo struct {
	Name         string          `json:"name"`
	Path         string          `json:"path"`
	Type         FieldType       `json:"type"`
	Category     filter.Category `json:"category"`
	SampleValues []string        `json:"sampleValues,omitempty"`
	Count        int             `json:"count"`
	UniqueCount  int             `json:"uniqueCount"`
}

// Record is one sampled call log, column name to value.
type Record map[string]jsonvalue.Value

// Catalog is the ordered list of fields discovered for an agent.
type Catalog []FieldInfo

// Lookup finds a field by path.
func (c Catalog) Lookup(path string) (FieldInfo, bool) {
	for _, f := range c {
		if f.Path == path {
			return f, true
		}
	}

	return FieldInfo{}, false
}

// ByCategory returns the paths of fields in category, in catalog order.
func (c Catalog) ByCategory(category filter.Category) []string {
	var paths []string

	for _, f := range c {
		if f.Category == category {
			paths = append(paths, f.Path)
		}
	}

	return paths
}

var dateLike = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([ T]\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:?\d{2})?)?$`)

var categoryOrder = map[filter.Category]int{
	filter.CategoryBasic:         0,
	filter.CategoryMetadata:      1,
	filter.CategoryTranscription: 2,
	filter.CategoryMetrics:       3,
}

type accumulator struct {
	info    FieldInfo
	typed   bool
	seen    map[string]struct{}
	samples []string
}

// Infer builds a catalog from sampled records. Fixed columns become fields
// named after the column; each top-level key of a JSONB column becomes a
// column.key field. Nested objects are reported as a single object field.
func Infer(registry *filter.Registry, records []Record) Catalog {
	fields := make(map[string]*accumulator)

	for _, rec := range records {
		for _, col := range registry.Columns() {
			v, ok := rec[col.Name]
			if !ok {
				continue
			}

			if col.Type != filter.TypeJSONB {
				observe(fields, col.Name, col.Name, col.Category, columnType(col.Type), v)

				continue
			}

			for _, key := range v.Keys() {
				member, _ := v.Field(key)
				observe(fields, col.Name+"."+key, key, col.Category, "", member)
			}
		}
	}

	catalog := make(Catalog, 0, len(fields))
	for _, acc := range fields {
		acc.info.UniqueCount = len(acc.seen)
		acc.info.SampleValues = acc.samples
		if !acc.typed {
			acc.info.Type = FieldString
		}

		catalog = append(catalog, acc.info)
	}

	sort.Slice(catalog, func(i, j int) bool {
		ci, cj := categoryOrder[catalog[i].Category], categoryOrder[catalog[j].Category]
		if ci != cj {
			return ci < cj
		}

		return catalog[i].Path < catalog[j].Path
	})

	return catalog
}

// observe records one value of a field. A non-empty declared type wins over
// inference from values.
func observe(fields map[string]*accumulator, path, name string, category filter.Category, declared FieldType, v jsonvalue.Value) {
	acc, ok := fields[path]
	if !ok {
		acc = &accumulator{
			info:  FieldInfo{Name: name, Path: path, Category: category, Type: declared},
			typed: declared != "",
			seen:  make(map[string]struct{}),
		}
		fields[path] = acc
	}

	if v.IsNull() {
		return
	}

	acc.info.Count++

	if !acc.typed {
		acc.info.Type = typeOf(v)
		acc.typed = true
	}

	text := v.Text()
	if _, dup := acc.seen[text]; dup {
		return
	}

	acc.seen[text] = struct{}{}

	if len(acc.samples) < maxSampleValues {
		acc.samples = append(acc.samples, text)
	}
}

func columnType(t filter.ColumnType) FieldType {
	switch t {
	case filter.TypeNumber:
		return FieldNumber
	case filter.TypeDate:
		return FieldDate
	case filter.TypeJSONB:
		return FieldObject
	default:
		return FieldString
	}
}

func typeOf(v jsonvalue.Value) FieldType {
	switch v.Kind() {
	case jsonvalue.Number:
		return FieldNumber
	case jsonvalue.Bool:
		return FieldBoolean
	case jsonvalue.Array:
		return FieldArray
	case jsonvalue.Object:
		return FieldObject
	case jsonvalue.String:
		s, _ := v.Str()
		if isDate(s) {
			return FieldDate
		}

		return FieldString
	default:
		return FieldString
	}
}

func isDate(s string) bool {
	if !dateLike.MatchString(s) {
		return false
	}

	_, err := time.Parse("2006-01-02", s[:len("2006-01-02")])

	return err == nil
}
