// Package sink persists records to a delimited file exactly once per key,
// surviving restarts and interrupts.
package sink

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TimestampLayout formats the timestamp column.
const TimestampLayout = "2006-01-02 15:04:05"

// Defaults for optional Config fields.
const (
	DefaultTimestampColumn = "timestamp"
	DefaultDelimiter       = ';'
)

var (
	// ErrDuplicateKey is returned by Append for a key already on file.
	ErrDuplicateKey = errors.New("key already persisted")
	// ErrHeaderMismatch is returned by Open when an existing file was
	// written with different columns.
	ErrHeaderMismatch = errors.New("output header does not match columns")
)

// Config describes one output file.
type Config struct {
	Path            string
	KeyColumn       string
	Columns         []string
	TimestampColumn string
	Delimiter       rune
	// Reset discards any existing file before opening.
	Reset  bool
	Logger *zap.Logger
}

// OutputRecord is one row: the key, the field values and the write time.
type OutputRecord struct {
	Key       string
	Values    map[string]string
	Timestamp time.Time
}

// CSVSink appends rows durably and remembers every key it has seen.
type CSVSink struct {
	mu      sync.Mutex
	path    string
	columns []string
	header  []string
	delim   rune
	keys    map[string]struct{}
	order   []string
	logger  *zap.Logger
}

// Open loads the processed keys of an existing file or creates it with a
// header. A torn final row left by a crash is cut off.
func Open(cfg Config) (*CSVSink, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("output path is required")
	}
	if strings.TrimSpace(cfg.KeyColumn) == "" {
		return nil, errors.New("key column is required")
	}
	if cfg.TimestampColumn == "" {
		cfg.TimestampColumn = DefaultTimestampColumn
	}
	if cfg.Delimiter == 0 {
		cfg.Delimiter = DefaultDelimiter
	}
	if cfg.Delimiter != ';' && cfg.Delimiter != ',' {
		return nil, fmt.Errorf("unsupported delimiter %q", cfg.Delimiter)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	header := make([]string, 0, len(cfg.Columns)+2)
	header = append(header, cfg.KeyColumn)
	header = append(header, cfg.Columns...)
	header = append(header, cfg.TimestampColumn)
	if dup := firstDuplicate(header); dup != "" {
		return nil, fmt.Errorf("column %q appears twice", dup)
	}

	s := &CSVSink{
		path:    cfg.Path,
		columns: append([]string(nil), cfg.Columns...),
		header:  header,
		delim:   cfg.Delimiter,
		keys:    make(map[string]struct{}),
		logger:  cfg.Logger.With(zap.String("path", cfg.Path)),
	}

	if cfg.Reset {
		if err := os.Remove(cfg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to reset output: %w", err)
		}
		s.logger.Info("output reset")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	data, err := os.ReadFile(cfg.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		data = nil
	case err != nil:
		return nil, fmt.Errorf("failed to read output: %w", err)
	}

	data, err = s.repairTail(data)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		if err := s.writeHeader(); err != nil {
			return nil, err
		}
		s.logger.Info("output created", zap.Int("columns", len(header)))
		return s, nil
	}
	if err := s.load(data); err != nil {
		return nil, err
	}
	s.logger.Info("output resumed", zap.Int("processed_keys", len(s.order)))
	return s, nil
}

// repairTail truncates a final row that was not terminated by a newline.
func (s *CSVSink) repairTail(data []byte) ([]byte, error) {
	if len(data) == 0 || data[len(data)-1] == '\n' {
		return data, nil
	}
	cut := bytes.LastIndexByte(data, '\n') + 1
	if err := os.Truncate(s.path, int64(cut)); err != nil {
		return nil, fmt.Errorf("failed to truncate torn row: %w", err)
	}
	s.logger.Warn("dropped incomplete final row", zap.Int("bytes", len(data)-cut))
	return data[:cut], nil
}

func (s *CSVSink) load(data []byte) error {
	r := newReader(bytes.NewReader(data), s.delim)
	got, err := r.Read()
	if err != nil {
		return fmt.Errorf("failed to read output header: %w", err)
	}
	got = cleanHeader(got)
	if !slices.Equal(got, s.header) {
		return fmt.Errorf("%w: file has %v, want %v", ErrHeaderMismatch, got, s.header)
	}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read output row: %w", err)
		}
		if len(row) == 0 {
			continue
		}
		s.remember(strings.TrimSpace(row[0]))
	}
}

func (s *CSVSink) writeHeader() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	return s.writeAndSync(f, s.header)
}

func (s *CSVSink) remember(key string) {
	if key == "" {
		return
	}
	if _, ok := s.keys[key]; ok {
		return
	}
	s.keys[key] = struct{}{}
	s.order = append(s.order, key)
}

// Has reports whether key is already persisted.
func (s *CSVSink) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[strings.TrimSpace(key)]
	return ok
}

// Len returns the number of processed keys.
func (s *CSVSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Keys returns processed keys in file order.
func (s *CSVSink) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Header returns the file header.
func (s *CSVSink) Header() []string {
	return append([]string(nil), s.header...)
}

// Path returns the output file path.
func (s *CSVSink) Path() string {
	return s.path
}

// Append writes rec as one row and syncs it to disk. The key joins the
// processed set only after the write is durable.
func (s *CSVSink) Append(rec OutputRecord) error {
	key := strings.TrimSpace(rec.Key)
	if key == "" {
		return errors.New("record key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return ErrDuplicateKey
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	row := make([]string, 0, len(s.header))
	row = append(row, key)
	for _, c := range s.columns {
		row = append(row, rec.Values[c])
	}
	row = append(row, ts.Format(TimestampLayout))

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open output for append: %w", err)
	}
	if err := s.writeAndSync(f, row); err != nil {
		return err
	}
	s.remember(key)
	return nil
}

func (s *CSVSink) writeAndSync(f *os.File, row []string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = s.delim
	if err := w.Write(row); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode row: %w", err)
	}
	w.Flush()
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write row: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync output: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close output: %w", err)
	}
	return nil
}

// Close releases the sink. Rows are already durable, so it only logs.
func (s *CSVSink) Close() error {
	s.logger.Debug("output closed", zap.Int("processed_keys", s.Len()))
	return nil
}

func newReader(r io.Reader, delim rune) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

func cleanHeader(h []string) []string {
	out := make([]string, len(h))
	for i, c := range h {
		if i == 0 {
			c = strings.TrimPrefix(c, "\ufeff")
		}
		out[i] = strings.TrimSpace(c)
	}
	return out
}

func firstDuplicate(cols []string) string {
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		if _, ok := seen[c]; ok {
			return c
		}
		seen[c] = struct{}{}
	}
	return ""
}
