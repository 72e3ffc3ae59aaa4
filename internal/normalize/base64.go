package normalize

import (
	"bytes"
	"encoding/base64"
	"strings"
)

const (
	stageBase64 = "base64"
	sniffWindow = 200
)

var htmlMarker = []byte("<html")

// looksBase64 reports whether the leading window of body uses only the
// base64 alphabet plus line breaks.
func looksBase64(body []byte) bool {
	window := body
	if len(window) > sniffWindow {
		window = window[:sniffWindow]
	}
	window = bytes.TrimSpace(window)
	if len(window) == 0 {
		return false
	}
	for _, b := range window {
		switch {
		case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		case b == '+', b == '/', b == '=', b == '\r', b == '\n':
		default:
			return false
		}
	}
	return true
}

// unwrapBase64 decodes a body that arrived as base64-wrapped HTML. The
// decoded form is kept only when it contains an HTML marker, so plain
// alphanumeric bodies pass through unchanged.
func unwrapBase64(body []byte) ([]byte, StageResult) {
	if !looksBase64(body) {
		return body, StageResult{Stage: stageBase64, Outcome: OutcomeSkipped}
	}
	compact := strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, string(body))

	decoded, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(compact, "="))
	}
	if err != nil {
		return body, StageResult{Stage: stageBase64, Outcome: OutcomeFailed, Detail: err.Error()}
	}
	if !bytes.Contains(bytes.ToLower(decoded), htmlMarker) {
		return body, StageResult{Stage: stageBase64, Outcome: OutcomeSkipped, Detail: "decoded bytes are not html"}
	}
	return decoded, StageResult{Stage: stageBase64, Outcome: OutcomeApplied}
}
