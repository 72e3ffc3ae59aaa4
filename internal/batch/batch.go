// Package batch reads lists of lookup keys from delimited files.
package batch

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/sitescraper/internal/sink"
)

// ReadFile reads keys from path. See Read.
func ReadFile(path, keyColumn string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key batch: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	keys, err := Read(f, keyColumn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return keys, nil
}

// Read returns the first non-empty cell of each row, trimmed, without
// duplicates and in input order. The delimiter is ';' when the first line
// contains one and ',' otherwise. A first row whose key cell equals
// keyColumn (case-insensitive) is treated as a header and skipped.
func Read(r io.Reader, keyColumn string) ([]string, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && bytes.Equal(bom, []byte("\xef\xbb\xbf")) {
		_, _ = br.Discard(3)
	}
	first, err := br.Peek(peekSize(br))
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("failed to read key batch: %w", err)
	}
	line, _, _ := bytes.Cut(first, []byte("\n"))

	cr := csv.NewReader(br)
	cr.Comma = sink.SniffDelimiter(string(line))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	seen := make(map[string]struct{})
	var keys []string
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return keys, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse key batch: %w", err)
		}
		key := firstCell(rec)
		if key == "" {
			continue
		}
		if row == 0 && keyColumn != "" && strings.EqualFold(key, keyColumn) {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
}

// Merge joins key lists in order, trimming each key and dropping empty and
// repeated ones.
func Merge(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, list := range lists {
		for _, key := range list {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}

func peekSize(br *bufio.Reader) int {
	if n := br.Buffered(); n > 0 {
		return n
	}
	return br.Size()
}

func firstCell(rec []string) string {
	for _, c := range rec {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}
