// Package crawler implements the hierarchical crawl frontier and the core
// types shared by fetchers, the content normalizer, and the field extractor.
//
// A crawl starts at a root category node. Each node is fetched once, its
// bytes are normalized into text, and a site-specific Classifier splits the
// page into subcategory nodes and item leaves. Items are handed to an
// ItemHandler one at a time; subcategories are descended depth-first after
// the items of their parent.
package crawler
