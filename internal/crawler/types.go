package crawler

import (
	"mime"
	"net/http"
	"strings"
	"time"
)

// Kind distinguishes category nodes from item leaves.
type Kind int

// Node kinds.
const (
	KindCategory Kind = iota
	KindItem
)

func (k Kind) String() string {
	switch k {
	case KindCategory:
		return "category"
	case KindItem:
		return "item"
	default:
		return "unknown"
	}
}

// NodeState is the terminal state a node reached during traversal.
type NodeState string

// Node states reported to logs and metrics.
const (
	StateFetchFailed NodeState = "fetch_failed"
	StateExpanded    NodeState = "expanded"
	StateLeaf        NodeState = "leaf"
	StateEmpty       NodeState = "empty"
	StateDuplicate   NodeState = "duplicate"
)

// Node is a page in the category tree. URL is its identity.
type Node struct {
	URL    string
	Name   string
	Parent *Node
	Depth  int
	Kind   Kind
}

// Path renders the display names from the root down to this node,
// skipping unnamed ancestors.
func (n *Node) Path() string {
	if n == nil {
		return ""
	}
	var names []string
	for cur := n; cur != nil; cur = cur.Parent {
		if name := strings.TrimSpace(cur.Name); name != "" {
			names = append(names, name)
		}
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, " > ")
}

// Item is a leaf found on a listing page together with the markup it was
// extracted from.
type Item struct {
	Node      *Node
	DetailURL string
	Code      string
	Title     string
	Doc       Document
}

// DedupKey returns the identity used to drop repeated items: the detail URL,
// then the site code, then the title. ok is false when none is present.
func (i Item) DedupKey() (key string, ok bool) {
	if u := strings.TrimSpace(i.DetailURL); u != "" {
		if canonical, err := NormalizeURL(u); err == nil {
			return canonical, true
		}
		return u, true
	}
	if c := strings.TrimSpace(i.Code); c != "" {
		return c, true
	}
	if t := strings.TrimSpace(i.Title); t != "" {
		return t, true
	}
	return "", false
}

// Classification is what a Classifier found on a category page.
type Classification struct {
	Subcategories []*Node
	Items         []Item
}

// Empty reports whether the page yielded neither items nor subcategories.
func (c Classification) Empty() bool {
	return len(c.Subcategories) == 0 && len(c.Items) == 0
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResult is the raw response handed to the normalizer.
type FetchResult struct {
	URL             string
	StatusCode      int
	Headers         http.Header
	Body            []byte
	ContentEncoding string
	Charset         string
	Duration        time.Duration
}

// NewFetchResult fills the declared encoding and charset from headers.
func NewFetchResult(url string, status int, headers http.Header, body []byte) FetchResult {
	if headers == nil {
		headers = http.Header{}
	}
	return FetchResult{
		URL:             url,
		StatusCode:      status,
		Headers:         headers,
		Body:            body,
		ContentEncoding: strings.ToLower(strings.TrimSpace(headers.Get("Content-Encoding"))),
		Charset:         CharsetFromContentType(headers.Get("Content-Type")),
	}
}

// CharsetFromContentType returns the lowercased charset parameter of a
// Content-Type header, or "" when none is declared.
func CharsetFromContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		idx := strings.Index(strings.ToLower(contentType), "charset=")
		if idx < 0 {
			return ""
		}
		value := contentType[idx+len("charset="):]
		if semi := strings.IndexByte(value, ';'); semi >= 0 {
			value = value[:semi]
		}
		return strings.ToLower(strings.Trim(strings.TrimSpace(value), `"'`))
	}
	return strings.ToLower(params["charset"])
}

// Document is normalized page text. Text is always valid UTF-8.
type Document struct {
	URL     string
	Text    string
	Charset string
}

// Stats summarizes one crawl.
type Stats struct {
	NodesFetched  int
	NodesFailed   int
	NodesEmpty    int
	NodesSkipped  int
	Items         int
	DuplicateItem int
	Retries       int
}
