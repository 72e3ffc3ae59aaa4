package batch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "semicolon with header", input: "NIF;nombre\nB1;Uno\nB2;Dos\n", want: []string{"B1", "B2"}},
		{name: "comma", input: "A1,x\nA2,y\n", want: []string{"A1", "A2"}},
		{name: "single column", input: "K1\nK2\n\nK3", want: []string{"K1", "K2", "K3"}},
		{name: "first non-empty cell", input: ";;C1\n ; C2 ;x\n", want: []string{"C1", "C2"}},
		{name: "duplicates dropped in order", input: "B\nA\nB\nC\nA\n", want: []string{"B", "A", "C"}},
		{name: "bom stripped", input: "\ufeffnif\nZ1\n", want: []string{"Z1"}},
		{name: "crlf", input: "K1\r\nK2\r\n", want: []string{"K1", "K2"}},
		{name: "empty", input: "", want: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Read(strings.NewReader(tc.input), "nif")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestReadHeaderOnlyMatchesKeyColumn(t *testing.T) {
	t.Parallel()

	got, err := Read(strings.NewReader("codigo\nX1\n"), "nif")
	require.NoError(t, err)
	assert.Equal(t, []string{"codigo", "X1"}, got)
}

func TestMergeTrimsAndDeduplicates(t *testing.T) {
	t.Parallel()

	got := Merge([]string{" B10 ", "", "B11", "  "}, []string{"B11", "B12", "B10"})
	assert.Equal(t, []string{"B10", "B11", "B12"}, got)
	assert.Empty(t, Merge([]string{"", " "}, nil))
}

func TestReadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keys.csv")
	require.NoError(t, os.WriteFile(path, []byte("nif;razon\nB10;A\nB11;B\n"), 0o600))

	got, err := ReadFile(path, "nif")
	require.NoError(t, err)
	assert.Equal(t, []string{"B10", "B11"}, got)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.csv"), "nif")
	assert.Error(t, err)
}
