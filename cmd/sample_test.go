package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDomainList(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "%d,domain%d.com\n", i, i)
	}
	path := filepath.Join(t.TempDir(), "top-1m.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestRunSample(t *testing.T) {
	input := writeDomainList(t, 50)
	dir := t.TempDir()

	first := filepath.Join(dir, "nested", "a.txt")
	require.NoError(t, runSample(&sampleOptions{input: input, output: first, count: 10, seed: 42}))
	lines := readLines(t, first)
	require.Len(t, lines, 10)

	seen := map[string]bool{}
	for _, l := range lines {
		assert.True(t, strings.HasPrefix(l, "domain"), l)
		assert.False(t, seen[l], "duplicate %s", l)
		seen[l] = true
	}

	second := filepath.Join(dir, "b.txt")
	require.NoError(t, runSample(&sampleOptions{input: input, output: second, count: 10, seed: 42}))
	assert.Equal(t, lines, readLines(t, second), "the same seed draws the same sample")
}

func TestRunSampleCapsAtListSize(t *testing.T) {
	input := writeDomainList(t, 3)
	out := filepath.Join(t.TempDir(), "s.txt")
	require.NoError(t, runSample(&sampleOptions{input: input, output: out, count: 2000, seed: 1}))
	assert.ElementsMatch(t, []string{"domain1.com", "domain2.com", "domain3.com"}, readLines(t, out))
}

func TestRunSampleRejectsBadInput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "s.txt")
	assert.Error(t, runSample(&sampleOptions{input: writeDomainList(t, 3), output: out, count: 0}))
	assert.Error(t, runSample(&sampleOptions{input: filepath.Join(t.TempDir(), "missing"), output: out, count: 5}))
}
