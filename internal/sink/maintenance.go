package sink

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// SniffDelimiter picks ';' when line contains one and ',' otherwise.
func SniffDelimiter(line string) rune {
	if strings.Contains(line, ";") {
		return ';'
	}
	return ','
}

// Table is a fully loaded output file.
type Table struct {
	Header []string
	Rows   [][]string
}

// ReadTable loads path. A zero delim is sniffed from the first line.
func ReadTable(path string, delim rune) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if delim == 0 {
		first, _, _ := bytes.Cut(data, []byte("\n"))
		delim = SniffDelimiter(string(first))
	}
	r := newReader(bytes.NewReader(data), delim)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, fmt.Errorf("%s is empty", path)
	}
	if err != nil {
		return Table{}, fmt.Errorf("failed to read header: %w", err)
	}
	t := Table{Header: cleanHeader(header)}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return t, nil
		}
		if err != nil {
			return Table{}, fmt.Errorf("failed to read row: %w", err)
		}
		t.Rows = append(t.Rows, row)
	}
}

// ColumnIndex returns the position of name in the header, or -1.
func (t Table) ColumnIndex(name string) int {
	return slices.Index(t.Header, name)
}

// ColumnFill is how many rows carry a value in one column.
type ColumnFill struct {
	Column string
	Filled int
	Ratio  float64
}

// Summary describes an output file.
type Summary struct {
	Rows          int
	UniqueKeys    int
	DuplicateKeys int
	Fill          []ColumnFill
	LastKeys      []string
}

// Summarize counts rows, keys and per-column fill for the table. The key
// column defaults to the first header cell.
func Summarize(t Table, keyColumn string, lastN int) (Summary, error) {
	idx := 0
	if keyColumn != "" {
		if idx = t.ColumnIndex(keyColumn); idx < 0 {
			return Summary{}, fmt.Errorf("key column %q not in header", keyColumn)
		}
	}
	s := Summary{Rows: len(t.Rows)}
	seen := make(map[string]int)
	var order []string
	filled := make([]int, len(t.Header))
	for _, row := range t.Rows {
		key := cell(row, idx)
		if key != "" {
			if seen[key] == 0 {
				order = append(order, key)
			}
			seen[key]++
		}
		for i := range t.Header {
			if cell(row, i) != "" {
				filled[i]++
			}
		}
	}
	s.UniqueKeys = len(seen)
	for _, n := range seen {
		if n > 1 {
			s.DuplicateKeys++
		}
	}
	for i, col := range t.Header {
		fill := ColumnFill{Column: col, Filled: filled[i]}
		if s.Rows > 0 {
			fill.Ratio = float64(filled[i]) / float64(s.Rows)
		}
		s.Fill = append(s.Fill, fill)
	}
	if lastN > 0 && len(order) > 0 {
		start := max(len(order)-lastN, 0)
		s.LastKeys = append([]string(nil), order[start:]...)
	}
	return s, nil
}

// CompactResult reports what Compact changed.
type CompactResult struct {
	Before  int
	After   int
	Backup  string
	Removed int
}

// Compact rewrites path keeping one row per key: the one with the most
// non-empty cells, earliest on ties, in first-seen order. The original is
// copied to path+".bak" first and the rewrite replaces it atomically.
func Compact(path, keyColumn string, delim rune) (CompactResult, error) {
	t, err := ReadTable(path, delim)
	if err != nil {
		return CompactResult{}, err
	}
	if delim == 0 {
		delim = sniffFile(path)
	}
	idx := 0
	if keyColumn != "" {
		if idx = t.ColumnIndex(keyColumn); idx < 0 {
			return CompactResult{}, fmt.Errorf("key column %q not in header", keyColumn)
		}
	}

	best := make(map[string]int)
	var order []string
	var keyless [][]string
	for i, row := range t.Rows {
		key := cell(row, idx)
		if key == "" {
			keyless = append(keyless, row)
			continue
		}
		prev, ok := best[key]
		if !ok {
			best[key] = i
			order = append(order, key)
			continue
		}
		if completeness(row) > completeness(t.Rows[prev]) {
			best[key] = i
		}
	}
	rows := make([][]string, 0, len(order)+len(keyless))
	for _, key := range order {
		rows = append(rows, t.Rows[best[key]])
	}
	rows = append(rows, keyless...)

	res := CompactResult{Before: len(t.Rows), After: len(rows), Backup: path + ".bak"}
	res.Removed = res.Before - res.After
	if err := copyFile(path, res.Backup); err != nil {
		return CompactResult{}, err
	}
	if err := writeAtomic(path, delim, t.Header, rows); err != nil {
		return CompactResult{}, err
	}
	return res, nil
}

// ExportNDJSON writes each row of t as one JSON object keyed by header.
func ExportNDJSON(t Table, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for i, row := range t.Rows {
		obj := make(map[string]string, len(t.Header))
		for j, col := range t.Header {
			obj[col] = cell(row, j)
		}
		if err := enc.Encode(obj); err != nil {
			return i, fmt.Errorf("failed to encode row %d: %w", i+1, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return len(t.Rows), fmt.Errorf("failed to flush export: %w", err)
	}
	return len(t.Rows), nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func completeness(row []string) int {
	n := 0
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			n++
		}
	}
	return n
}

func sniffFile(path string) rune {
	f, err := os.Open(path)
	if err != nil {
		return DefaultDelimiter
	}
	defer f.Close() //nolint:errcheck // read-only
	line, _ := bufio.NewReader(f).ReadString('\n')
	return SniffDelimiter(line)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o640); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	return nil
}

func writeAtomic(path string, delim rune, header []string, rows [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	w := csv.NewWriter(tmp)
	w.Comma = delim
	if err := w.Write(header); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write rows: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
