package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the raw body plus transport metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResult, error)
}

// Normalizer turns a raw response into text. It never fails.
type Normalizer interface {
	Normalize(result FetchResult) Document
}

// Classifier splits a category page into subcategory nodes and item leaves.
type Classifier interface {
	Classify(node *Node, doc Document) (Classification, error)
}

// Pacer blocks until the next fetch may start.
type Pacer interface {
	Wait(ctx context.Context) error
}

// RetryPolicy decides if and when a failed fetch is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// ItemHandler consumes one item. A returned error aborts the crawl.
type ItemHandler func(ctx context.Context, item Item) error

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
