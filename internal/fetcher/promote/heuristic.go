package promote

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sitescraper/internal/crawler"
)

// Heuristic flags pages that are script shells rather than content.
type Heuristic struct {
	// MinTextBytes is the visible text below which a page is suspect.
	MinTextBytes int
	// ScriptPercent is the share of the markup inside <script> that makes a
	// suspect page a shell.
	ScriptPercent int
}

// DefaultHeuristic suits server-rendered listing and detail pages.
var DefaultHeuristic = Heuristic{MinTextBytes: 200, ScriptPercent: 25}

var spaMarkers = []string{
	"__next",
	`id="root"`,
	`id="app"`,
	"data-reactroot",
	"ng-app",
	"window.__apollo_state__",
}

// NeedsRender reports whether doc should be fetched again through a browser.
// Pages with real text never are.
func (h Heuristic) NeedsRender(doc crawler.Document) bool {
	if strings.TrimSpace(doc.Text) == "" {
		return true
	}
	gdoc, err := goquery.NewDocumentFromReader(strings.NewReader(doc.Text))
	if err != nil {
		return false
	}
	gdoc.Find("script, style, noscript, template").Remove()
	visible := len(strings.Join(strings.Fields(gdoc.Find("body").Text()), " "))
	if visible >= h.MinTextBytes {
		return false
	}

	lower := strings.ToLower(doc.Text)
	for _, marker := range spaMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return scriptShare(lower) >= h.ScriptPercent
}

// scriptShare is the percentage of lower covered by <script> elements. An
// unterminated script counts to the end of the document.
func scriptShare(lower string) int {
	total := len(lower)
	if total == 0 {
		return 0
	}
	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		end := total
		if relEnd := strings.Index(lower[start:], closeTag); relEnd != -1 {
			end = start + relEnd + len(closeTag)
		}
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}
