// Package normalize turns raw response bytes into valid UTF-8 text.
//
// Normalization runs three best-effort stages in order: transport
// decompression, nested base64 detection, and charset decoding. Every stage
// reports an outcome; a stage that fails leaves the bytes from the previous
// stage untouched, so Normalize always returns a document.
package normalize

import (
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/crawler"
)

// Outcome tags the result of one normalization stage.
type Outcome string

// Stage outcomes.
const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// DefaultMaxBytes caps decompressed output.
const DefaultMaxBytes = 32 << 20

// StageResult records what one stage did.
type StageResult struct {
	Stage   string
	Outcome Outcome
	Detail  string
}

// Report lists stage results in execution order.
type Report []StageResult

// Applied reports whether the named stage changed the bytes.
func (r Report) Applied(stage string) bool {
	for _, s := range r {
		if s.Stage == stage {
			return s.Outcome == OutcomeApplied
		}
	}
	return false
}

// Normalizer implements crawler.Normalizer.
type Normalizer struct {
	defaultCharset string
	maxBytes       int64
	detect         bool
	logger         *zap.Logger
}

// Option customizes a Normalizer.
type Option func(*Normalizer)

// WithDefaultCharset sets the charset used when neither detection nor the
// transport yields a usable one.
func WithDefaultCharset(name string) Option {
	return func(n *Normalizer) {
		if strings.TrimSpace(name) != "" {
			n.defaultCharset = strings.ToLower(strings.TrimSpace(name))
		}
	}
}

// WithMaxBytes caps the size of decompressed bodies.
func WithMaxBytes(limit int64) Option {
	return func(n *Normalizer) {
		if limit > 0 {
			n.maxBytes = limit
		}
	}
}

// WithDetection toggles statistical charset detection.
func WithDetection(enabled bool) Option {
	return func(n *Normalizer) {
		n.detect = enabled
	}
}

// WithLogger sets the logger used for stage diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Normalizer) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// New builds a Normalizer with detection enabled and a utf-8 default.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		defaultCharset: "utf-8",
		maxBytes:       DefaultMaxBytes,
		detect:         true,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize implements crawler.Normalizer.
func (n *Normalizer) Normalize(result crawler.FetchResult) crawler.Document {
	doc, report := n.NormalizeWithReport(result)
	if ce := n.logger.Check(zap.DebugLevel, "normalized response"); ce != nil {
		fields := []zap.Field{zap.String("url", result.URL), zap.String("charset", doc.Charset)}
		for _, s := range report {
			fields = append(fields, zap.String(s.Stage, string(s.Outcome)))
		}
		ce.Write(fields...)
	}
	return doc
}

// NormalizeWithReport normalizes the result and returns the per-stage report.
func (n *Normalizer) NormalizeWithReport(result crawler.FetchResult) (crawler.Document, Report) {
	body := result.Body
	report := make(Report, 0, 3)

	out, res := n.decompress(body, result.ContentEncoding)
	report = append(report, res)
	if res.Outcome == OutcomeApplied {
		body = out
	}

	out, res = unwrapBase64(body)
	report = append(report, res)
	if res.Outcome == OutcomeApplied {
		body = out
	}

	text, charsetName, res := n.decode(body, result.Charset)
	report = append(report, res)

	return crawler.Document{
		URL:     result.URL,
		Text:    text,
		Charset: charsetName,
	}, report
}
