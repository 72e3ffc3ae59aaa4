// Package extract turns a normalized document into a flat record using a
// declarative FieldMap.
package extract

import "strings"

// Rule sources.
const (
	SourceKey  = "key"
	SourceURL  = "url"
	SourcePath = "path"
)

// Rule fills one output field. Exactly one of Label, Selector, XPath or
// Source selects the value. Rules sharing a Field act as fallbacks: the
// first non-empty result wins.
type Rule struct {
	Field    string   `mapstructure:"field"`
	Label    string   `mapstructure:"label"`
	Selector string   `mapstructure:"selector"`
	XPath    string   `mapstructure:"xpath"`
	Source   string   `mapstructure:"source"`
	Exact    bool     `mapstructure:"exact"`
	Fuzzy    bool     `mapstructure:"fuzzy"`
	Attr     string   `mapstructure:"attr"`
	Resolve  bool     `mapstructure:"resolve"`
	Post     []string `mapstructure:"post"`
	MaxLen   int      `mapstructure:"max_len"`
}

// PairShape locates label/value pairs in definition-style markup.
type PairShape struct {
	Row   string `mapstructure:"row"`
	Label string `mapstructure:"label"`
	Value string `mapstructure:"value"`
}

// DefaultPairShape matches two-cell table rows.
var DefaultPairShape = PairShape{Row: "tr", Label: "th, td", Value: "td"}

func (p PairShape) withDefaults() PairShape {
	if strings.TrimSpace(p.Row) == "" {
		p.Row = DefaultPairShape.Row
	}
	if strings.TrimSpace(p.Label) == "" {
		p.Label = DefaultPairShape.Label
	}
	if strings.TrimSpace(p.Value) == "" {
		p.Value = DefaultPairShape.Value
	}
	return p
}

// SeriesRule maps an inline numeric array such as `Name: [1, 2, 3]` onto
// Columns, oldest first.
type SeriesRule struct {
	Name    string   `mapstructure:"name"`
	Columns []string `mapstructure:"columns"`
}

// FieldMap is the complete extraction description for one site.
type FieldMap struct {
	Rules       []Rule       `mapstructure:"fields"`
	Pairs       PairShape    `mapstructure:"pairs"`
	Series      []SeriesRule `mapstructure:"series"`
	Significant []string     `mapstructure:"significant"`
}

// Columns lists the output fields in declaration order: rule fields first,
// then series columns. Repeated names appear once.
func (m FieldMap) Columns() []string {
	seen := make(map[string]struct{})
	var cols []string
	add := func(name string) {
		if _, ok := seen[name]; ok || name == "" {
			return
		}
		seen[name] = struct{}{}
		cols = append(cols, name)
	}
	for _, r := range m.Rules {
		add(r.Field)
	}
	for _, s := range m.Series {
		for _, c := range s.Columns {
			add(c)
		}
	}
	return cols
}

// Record is the result of one extraction. Every column is present.
type Record struct {
	Values map[string]string
	Valid  bool
}

// Get returns the value of field, or "".
func (r Record) Get(field string) string {
	return r.Values[field]
}

// Row returns the values in column order.
func (r Record) Row(columns []string) []string {
	row := make([]string, len(columns))
	for i, c := range columns {
		row[i] = r.Values[c]
	}
	return row
}
