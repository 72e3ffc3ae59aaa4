package sink

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacyOutput = `nif;denominacion;telefono;timestamp
A1;;;2024-01-01 00:00:00
B2;Beta;22;2024-01-01 00:00:01
A1;Alfa;11;2024-01-01 00:00:02
C3;Gamma;;2024-01-01 00:00:03
B2;Beta;;2024-01-01 00:00:04
`

func writeLegacy(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "legacy.csv")
	require.NoError(t, os.WriteFile(path, []byte(legacyOutput), 0o640))
	return path
}

func TestSniffDelimiter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ';', SniffDelimiter("a;b"))
	assert.Equal(t, ',', SniffDelimiter("a,b"))
	assert.Equal(t, ',', SniffDelimiter("single"))
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	table, err := ReadTable(writeLegacy(t), 0)
	require.NoError(t, err)

	sum, err := Summarize(table, "nif", 2)
	require.NoError(t, err)

	assert.Equal(t, 5, sum.Rows)
	assert.Equal(t, 3, sum.UniqueKeys)
	assert.Equal(t, 2, sum.DuplicateKeys)
	assert.Equal(t, []string{"B2", "C3"}, sum.LastKeys)
	require.Len(t, sum.Fill, 4)
	assert.Equal(t, ColumnFill{Column: "denominacion", Filled: 4, Ratio: 0.8}, sum.Fill[1])

	_, err = Summarize(table, "cif", 2)
	assert.Error(t, err)
}

func TestCompactKeepsMostCompleteRow(t *testing.T) {
	t.Parallel()

	path := writeLegacy(t)
	res, err := Compact(path, "nif", 0)
	require.NoError(t, err)

	assert.Equal(t, CompactResult{Before: 5, After: 3, Removed: 2, Backup: path + ".bak"}, res)

	backup, err := os.ReadFile(res.Backup)
	require.NoError(t, err)
	assert.Equal(t, legacyOutput, string(backup))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"nif;denominacion;telefono;timestamp",
		"A1;Alfa;11;2024-01-01 00:00:02",
		"B2;Beta;22;2024-01-01 00:00:01",
		"C3;Gamma;;2024-01-01 00:00:03",
	}, "\n")+"\n", string(data))

	// The compacted file opens cleanly as a sink.
	s, err := Open(Config{Path: path, KeyColumn: "nif", Columns: []string{"denominacion", "telefono"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "B2", "C3"}, s.Keys())
}

func TestCompactMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Compact(filepath.Join(t.TempDir(), "nope.csv"), "nif", ';')
	assert.Error(t, err)
}

func TestExportNDJSON(t *testing.T) {
	t.Parallel()

	table, err := ReadTable(writeLegacy(t), ';')
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := ExportNDJSON(table, &buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.JSONEq(t, `{"nif":"B2","denominacion":"Beta","telefono":"22","timestamp":"2024-01-01 00:00:01"}`, lines[1])
}

func TestReadTableEmptyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(path, nil, 0o640))
	_, err := ReadTable(path, 0)
	assert.Error(t, err)
}
