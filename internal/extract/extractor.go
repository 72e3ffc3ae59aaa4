package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"github.com/antzucaro/matchr"
	"golang.org/x/net/html"

	"github.com/JakeFAU/sitescraper/internal/crawler"
)

// FuzzyThreshold is the minimum Jaro-Winkler similarity for fuzzy labels.
const FuzzyThreshold = 0.9

// Context carries values that do not come from the markup.
type Context struct {
	Key  string
	URL  string
	Path string
}

type ruleKind int

const (
	kindLabel ruleKind = iota
	kindSelector
	kindXPath
	kindSource
)

type compiledRule struct {
	Rule
	kind  ruleKind
	label string
	css   cascadia.Selector
	xpath *xpath.Expr
	post  []transform
}

type pairSelectors struct {
	row, label, value cascadia.Selector
}

// Extractor applies a compiled FieldMap. It is safe for concurrent use.
type Extractor struct {
	columns     []string
	rules       []compiledRule
	pairs       pairSelectors
	usesPairs   bool
	series      []compiledSeries
	significant []string
}

// New compiles the FieldMap. Invalid selectors, unknown transforms and rules
// without a value source are rejected here rather than at extract time.
func New(m FieldMap) (*Extractor, error) {
	e := &Extractor{columns: m.Columns()}
	if len(e.columns) == 0 {
		return nil, errors.New("field map has no fields")
	}

	for i, r := range m.Rules {
		cr, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Field, err)
		}
		if cr.kind == kindLabel {
			e.usesPairs = true
		}
		e.rules = append(e.rules, cr)
	}

	shape := m.Pairs.withDefaults()
	var err error
	if e.pairs.row, err = cascadia.Compile(shape.Row); err != nil {
		return nil, fmt.Errorf("pairs row selector %q: %w", shape.Row, err)
	}
	if e.pairs.label, err = cascadia.Compile(shape.Label); err != nil {
		return nil, fmt.Errorf("pairs label selector %q: %w", shape.Label, err)
	}
	if e.pairs.value, err = cascadia.Compile(shape.Value); err != nil {
		return nil, fmt.Errorf("pairs value selector %q: %w", shape.Value, err)
	}

	for _, s := range m.Series {
		cs, err := compileSeries(s)
		if err != nil {
			return nil, err
		}
		e.series = append(e.series, cs)
	}

	known := make(map[string]struct{}, len(e.columns))
	for _, c := range e.columns {
		known[c] = struct{}{}
	}
	for _, s := range m.Significant {
		if _, ok := known[s]; !ok {
			return nil, fmt.Errorf("significant field %q is not a column", s)
		}
	}
	e.significant = append([]string(nil), m.Significant...)
	return e, nil
}

func compileRule(r Rule) (compiledRule, error) {
	cr := compiledRule{Rule: r}
	if strings.TrimSpace(r.Field) == "" {
		return cr, errors.New("field name is required")
	}
	sources := 0
	for _, s := range []string{r.Label, r.Selector, r.XPath, r.Source} {
		if strings.TrimSpace(s) != "" {
			sources++
		}
	}
	if sources != 1 {
		return cr, errors.New("exactly one of label, selector, xpath or source is required")
	}

	var err error
	switch {
	case r.Label != "":
		cr.kind = kindLabel
		cr.label = normalizeLabel(r.Label)
	case r.Selector != "":
		cr.kind = kindSelector
		if cr.css, err = cascadia.Compile(r.Selector); err != nil {
			return cr, fmt.Errorf("selector %q: %w", r.Selector, err)
		}
	case r.XPath != "":
		cr.kind = kindXPath
		if cr.xpath, err = xpath.Compile(r.XPath); err != nil {
			return cr, fmt.Errorf("xpath %q: %w", r.XPath, err)
		}
	default:
		cr.kind = kindSource
		switch r.Source {
		case SourceKey, SourceURL, SourcePath:
		default:
			return cr, fmt.Errorf("unknown source %q", r.Source)
		}
	}

	for _, def := range r.Post {
		t, err := parseTransform(def)
		if err != nil {
			return cr, err
		}
		cr.post = append(cr.post, t)
	}
	return cr, nil
}

// Columns returns the output columns in order.
func (e *Extractor) Columns() []string {
	return append([]string(nil), e.columns...)
}

// Extract runs the field map against doc with only the document URL known.
func (e *Extractor) Extract(doc crawler.Document) Record {
	return e.ExtractWith(doc, Context{URL: doc.URL})
}

// ExtractWith runs the field map against doc. Fields that match nothing
// are "".
func (e *Extractor) ExtractWith(doc crawler.Document, c Context) Record {
	values := make(map[string]string, len(e.columns))
	for _, col := range e.columns {
		values[col] = ""
	}

	root, err := html.Parse(strings.NewReader(doc.Text))
	if err != nil {
		root = &html.Node{Type: html.DocumentNode}
	}
	gdoc := goquery.NewDocumentFromNode(root)

	var pairs []pair
	if e.usesPairs {
		pairs = e.collectPairs(gdoc)
	}
	if c.URL == "" {
		c.URL = doc.URL
	}

	for _, r := range e.rules {
		if values[r.Field] != "" {
			continue
		}
		values[r.Field] = r.finish(e.raw(r, gdoc, root, pairs, doc.URL, c))
	}
	for _, s := range e.series {
		s.apply(doc.Text, values)
	}

	return Record{Values: values, Valid: e.valid(values)}
}

// Merge fills the empty fields of primary from fallback and recomputes
// validity.
func (e *Extractor) Merge(primary, fallback Record) Record {
	values := make(map[string]string, len(e.columns))
	for _, col := range e.columns {
		v := primary.Values[col]
		if v == "" {
			v = fallback.Values[col]
		}
		values[col] = v
	}
	return Record{Values: values, Valid: e.valid(values)}
}

func (e *Extractor) raw(r compiledRule, gdoc *goquery.Document, root *html.Node, pairs []pair, base string, c Context) string {
	switch r.kind {
	case kindLabel:
		for _, p := range pairs {
			if r.matches(p.label) {
				return p.value
			}
		}
		return ""
	case kindSelector:
		sel := gdoc.FindMatcher(r.css).First()
		if sel.Length() == 0 {
			return ""
		}
		return r.nodeValue(sel.Get(0), base)
	case kindXPath:
		node := htmlquery.QuerySelector(root, r.xpath)
		if node == nil {
			return ""
		}
		return r.nodeValue(node, base)
	default:
		switch r.Source {
		case SourceKey:
			return c.Key
		case SourceURL:
			return c.URL
		default:
			return c.Path
		}
	}
}

func (r compiledRule) nodeValue(n *html.Node, base string) string {
	var v string
	if r.Attr == "" {
		v = nodeText(n)
	} else {
		v = htmlquery.SelectAttr(n, r.Attr)
	}
	if r.Resolve {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			v = crawler.ResolveURL(base, trimmed)
		}
	}
	return v
}

// finish collapses whitespace per line, applies Post in order, folds any
// remaining line breaks and enforces MaxLen.
func (r compiledRule) finish(v string) string {
	v = collapseLines(v)
	for _, t := range r.post {
		v = t(v)
	}
	v = collapseSpace(v)
	return truncateRunes(v, r.MaxLen)
}

func (r compiledRule) matches(label string) bool {
	got := normalizeLabel(label)
	if got == "" {
		return false
	}
	switch {
	case r.Exact:
		return got == r.label
	case r.Fuzzy:
		return got == r.label || matchr.JaroWinkler(got, r.label, false) >= FuzzyThreshold
	default:
		return strings.Contains(got, r.label)
	}
}

func normalizeLabel(label string) string {
	label = strings.ToLower(collapseSpace(label))
	return strings.TrimSpace(strings.TrimSuffix(label, ":"))
}

func (e *Extractor) valid(values map[string]string) bool {
	if len(e.significant) > 0 {
		for _, f := range e.significant {
			if values[f] != "" {
				return true
			}
		}
		return false
	}
	for _, v := range values {
		if v != "" {
			return true
		}
	}
	return false
}

type pair struct {
	label string
	value string
}

func (e *Extractor) collectPairs(gdoc *goquery.Document) []pair {
	var out []pair
	gdoc.FindMatcher(e.pairs.row).Each(func(_ int, row *goquery.Selection) {
		label := row.FindMatcher(e.pairs.label).First()
		if label.Length() == 0 {
			return
		}
		value := row.FindMatcher(e.pairs.value).NotSelection(label).First()
		if value.Length() == 0 {
			return
		}
		out = append(out, pair{label: nodeText(label.Get(0)), value: nodeText(value.Get(0))})
	})
	return out
}

var breakElements = map[string]struct{}{
	"br": {}, "p": {}, "div": {}, "li": {}, "tr": {}, "h1": {}, "h2": {}, "h3": {}, "h4": {},
}

// nodeText renders the text under n with line breaks where the markup
// breaks lines. Script and style contents are skipped.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
			if _, ok := breakElements[n.Data]; ok {
				b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
