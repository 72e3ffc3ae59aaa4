package normalize

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

const stageDecompress = "decompress"

var errTooLarge = errors.New("decompressed body exceeds limit")

type decoder func(io.Reader) (io.Reader, error)

func gzipDecoder(r io.Reader) (io.Reader, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("gzip header: %w", err)
	}
	return zr, nil
}

func zlibDecoder(r io.Reader) (io.Reader, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("zlib header: %w", err)
	}
	return zr, nil
}

func rawDeflateDecoder(r io.Reader) (io.Reader, error) {
	return flate.NewReader(r), nil
}

func brotliDecoder(r io.Reader) (io.Reader, error) {
	return brotli.NewReader(r), nil
}

// decodersFor returns the attempts for one content-coding token. Servers
// label both zlib-wrapped and raw DEFLATE streams as "deflate".
func decodersFor(token string) []decoder {
	switch token {
	case "gzip", "x-gzip":
		return []decoder{gzipDecoder}
	case "deflate":
		return []decoder{zlibDecoder, rawDeflateDecoder}
	case "br":
		return []decoder{brotliDecoder}
	default:
		return nil
	}
}

// decompress undoes the declared content codings right to left. Any failure
// returns the original body.
func (n *Normalizer) decompress(body []byte, contentEncoding string) ([]byte, StageResult) {
	tokens := splitCodings(contentEncoding)
	if len(tokens) == 0 || len(body) == 0 {
		return body, StageResult{Stage: stageDecompress, Outcome: OutcomeSkipped}
	}

	current := body
	applied := make([]string, 0, len(tokens))
	for i := len(tokens) - 1; i >= 0; i-- {
		token := tokens[i]
		if token == "identity" {
			continue
		}
		decoders := decodersFor(token)
		if decoders == nil {
			return body, StageResult{Stage: stageDecompress, Outcome: OutcomeSkipped, Detail: "unsupported coding " + token}
		}
		out, err := n.firstDecoded(current, decoders)
		if err != nil {
			return body, StageResult{Stage: stageDecompress, Outcome: OutcomeFailed, Detail: token + ": " + err.Error()}
		}
		current = out
		applied = append(applied, token)
	}
	if len(applied) == 0 {
		return body, StageResult{Stage: stageDecompress, Outcome: OutcomeSkipped}
	}
	return current, StageResult{Stage: stageDecompress, Outcome: OutcomeApplied, Detail: strings.Join(applied, ",")}
}

func (n *Normalizer) firstDecoded(body []byte, decoders []decoder) ([]byte, error) {
	var errs []error
	for _, dec := range decoders {
		out, err := n.inflate(body, dec)
		if err == nil {
			return out, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

func (n *Normalizer) inflate(body []byte, dec decoder) ([]byte, error) {
	r, err := dec(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if closer, ok := r.(io.Closer); ok {
		defer closer.Close() //nolint:errcheck // read-only decompressor
	}
	out, err := io.ReadAll(io.LimitReader(r, n.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	if int64(len(out)) > n.maxBytes {
		return nil, errTooLarge
	}
	return out, nil
}

func splitCodings(header string) []string {
	var tokens []string
	for _, part := range strings.Split(header, ",") {
		if token := strings.ToLower(strings.TrimSpace(part)); token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}
