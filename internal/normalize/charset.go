package normalize

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

const stageCharset = "charset"

// minDetectConfidence discards low-confidence chardet guesses.
const minDetectConfidence = 30

// candidates lists charsets to try in order: detected, declared, default.
// Non-ASCII text that is already valid UTF-8 is taken as UTF-8 first.
func (n *Normalizer) candidates(body []byte, declared string) []string {
	var out []string
	if hasMultibyte(body) && utf8.Valid(body) {
		out = append(out, "utf-8")
	}
	if n.detect && len(body) > 0 {
		if res, err := chardet.NewHtmlDetector().DetectBest(body); err == nil && res != nil && res.Confidence >= minDetectConfidence {
			out = append(out, res.Charset)
		}
	}
	if declared != "" {
		out = append(out, declared)
	}
	out = append(out, n.defaultCharset, "utf-8")
	return out
}

// decode converts body to UTF-8 using the first candidate that resolves to
// a known encoding and decodes cleanly. Invalid sequences left over become
// U+FFFD.
func (n *Normalizer) decode(body []byte, declared string) (string, string, StageResult) {
	if len(body) == 0 {
		return "", n.defaultCharset, StageResult{Stage: stageCharset, Outcome: OutcomeSkipped}
	}
	body = bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))

	tried := make(map[string]struct{})
	for _, name := range n.candidates(body, declared) {
		enc, canonical := charset.Lookup(strings.TrimSpace(name))
		if enc == nil {
			continue
		}
		if _, ok := tried[canonical]; ok {
			continue
		}
		tried[canonical] = struct{}{}

		if canonical == "utf-8" {
			if utf8.Valid(body) {
				return string(body), canonical, StageResult{Stage: stageCharset, Outcome: OutcomeApplied, Detail: canonical}
			}
			continue
		}
		text, err := decodeWith(enc, body)
		if err != nil {
			continue
		}
		return strings.ToValidUTF8(text, "�"), canonical, StageResult{Stage: stageCharset, Outcome: OutcomeApplied, Detail: canonical}
	}

	return strings.ToValidUTF8(string(body), "�"), "utf-8", StageResult{
		Stage:   stageCharset,
		Outcome: OutcomeFailed,
		Detail:  "no candidate decoded cleanly; replaced invalid bytes",
	}
}

func decodeWith(enc encoding.Encoding, body []byte) (string, error) {
	out, err := io.ReadAll(transform.NewReader(bytes.NewReader(body), enc.NewDecoder()))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func hasMultibyte(body []byte) bool {
	for _, b := range body {
		if b >= utf8.RuneSelf {
			return true
		}
	}
	return false
}
