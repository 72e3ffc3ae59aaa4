package profile

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/JakeFAU/sitescraper/internal/crawler"
)

var whitespace = regexp.MustCompile(`\s+`)

// ListingClassifier splits a catalog page into subcategory links and item
// containers using CSS selectors.
type ListingClassifier struct {
	categoryLink cascadia.Selector
	minName      int
	containers   []cascadia.Selector
	detailLink   cascadia.Selector
	code         cascadia.Selector
	title        cascadia.Selector
}

// NewClassifier compiles the catalog selectors.
func (p Profile) NewClassifier() (*ListingClassifier, error) {
	c := p.Catalog
	lc := &ListingClassifier{minName: c.MinNameLength}
	var err error
	if lc.categoryLink, err = compileOptional("category_link", c.CategoryLink); err != nil {
		return nil, err
	}
	for _, opt := range []struct{ name, sel string }{
		{"item_container", c.ItemContainer},
		{"item_fallback", c.ItemFallback},
	} {
		sel, err := compileOptional(opt.name, opt.sel)
		if err != nil {
			return nil, err
		}
		if sel != nil {
			lc.containers = append(lc.containers, sel)
		}
	}
	if lc.detailLink, err = compileOptional("detail_link", c.DetailLink); err != nil {
		return nil, err
	}
	if lc.code, err = compileOptional("code", c.Code); err != nil {
		return nil, err
	}
	if lc.title, err = compileOptional("title", c.Title); err != nil {
		return nil, err
	}
	return lc, nil
}

func compileOptional(name, sel string) (cascadia.Selector, error) {
	if strings.TrimSpace(sel) == "" {
		return nil, nil
	}
	compiled, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("%s selector %q: %w", name, sel, err)
	}
	return compiled, nil
}

// Classify implements crawler.Classifier.
func (c *ListingClassifier) Classify(node *crawler.Node, doc crawler.Document) (crawler.Classification, error) {
	gdoc, err := goquery.NewDocumentFromReader(strings.NewReader(doc.Text))
	if err != nil {
		return crawler.Classification{}, fmt.Errorf("parse listing: %w", err)
	}
	base := doc.URL
	if base == "" && node != nil {
		base = node.URL
	}
	var out crawler.Classification
	out.Subcategories = c.subcategories(gdoc, base)
	items, err := c.items(gdoc, base, doc.Charset)
	if err != nil {
		return crawler.Classification{}, err
	}
	out.Items = items
	return out, nil
}

func (c *ListingClassifier) subcategories(gdoc *goquery.Document, base string) []*crawler.Node {
	if c.categoryLink == nil {
		return nil
	}
	self, _ := crawler.NormalizeURL(base)
	seen := make(map[string]struct{})
	var nodes []*crawler.Node
	gdoc.FindMatcher(c.categoryLink).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		abs := crawler.ResolveURL(base, href)
		if abs == "" {
			return
		}
		canonical, err := crawler.NormalizeURL(abs)
		if err != nil || canonical == self {
			return
		}
		name := collapse(a.Text())
		if utf8.RuneCountInString(name) < c.minName {
			return
		}
		if _, dup := seen[canonical]; dup {
			return
		}
		seen[canonical] = struct{}{}
		nodes = append(nodes, &crawler.Node{URL: canonical, Name: name, Kind: crawler.KindCategory})
	})
	return nodes
}

// items uses the first container selector that matches anything.
func (c *ListingClassifier) items(gdoc *goquery.Document, base, charset string) ([]crawler.Item, error) {
	for _, sel := range c.containers {
		found := gdoc.FindMatcher(sel)
		if found.Length() == 0 {
			continue
		}
		var items []crawler.Item
		for i := range found.Nodes {
			item, ok, err := c.item(found.Eq(i), base, charset)
			if err != nil {
				return nil, err
			}
			if ok {
				items = append(items, item)
			}
		}
		return items, nil
	}
	return nil, nil
}

func (c *ListingClassifier) item(box *goquery.Selection, base, charset string) (crawler.Item, bool, error) {
	markup, err := goquery.OuterHtml(box)
	if err != nil {
		return crawler.Item{}, false, fmt.Errorf("render item: %w", err)
	}
	var item crawler.Item
	var link *goquery.Selection
	if c.detailLink != nil {
		link = box.FindMatcher(c.detailLink).First()
		if href, ok := link.Attr("href"); ok {
			item.DetailURL = crawler.ResolveURL(base, href)
		}
	}
	if c.title != nil {
		item.Title = collapse(box.FindMatcher(c.title).First().Text())
	}
	if item.Title == "" && link != nil {
		item.Title = collapse(link.Text())
	}
	if c.code != nil {
		item.Code = collapse(box.FindMatcher(c.code).First().Text())
	}
	if item.DetailURL == "" && item.Title == "" && item.Code == "" && collapse(box.Text()) == "" {
		return crawler.Item{}, false, nil
	}
	item.Node = &crawler.Node{URL: item.DetailURL, Name: item.Title, Kind: crawler.KindItem}
	item.Doc = crawler.Document{URL: base, Text: markup, Charset: charset}
	return item, true, nil
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
