package dynflag

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "generator.js")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

func TestGeneratorGenerateReturnsScriptValue(t *testing.T) {
	path := writeScript(t, `function generate(uid, challengeKey) {
		return "flag{" + uid + "_" + challengeKey + "}";
	}`)

	g := New()
	flag, err := g.Generate(path, 42, "pwn1")
	require.NoError(t, err)
	assert.Equal(t, "flag{42_pwn1}", flag)
}

func TestGeneratorGenerateCachesCompiledProgram(t *testing.T) {
	path := writeScript(t, `function generate(uid, challengeKey) { return "flag{" + uid + "}"; }`)

	g := New()
	_, err := g.Generate(path, 1, "c")
	require.NoError(t, err)
	assert.Len(t, g.programs, 1)

	_, err = g.Generate(path, 2, "c")
	require.NoError(t, err)
	assert.Len(t, g.programs, 1, "second lookup against the same path reuses the cached program")
}

func TestGeneratorGenerateMissingFunctionErrors(t *testing.T) {
	path := writeScript(t, `var x = 1;`)

	g := New()
	_, err := g.Generate(path, 1, "c")
	assert.Error(t, err)
}

func TestGeneratorGenerateNonStringReturnErrors(t *testing.T) {
	path := writeScript(t, `function generate(uid, challengeKey) { return 123; }`)

	g := New()
	_, err := g.Generate(path, 1, "c")
	assert.Error(t, err)
}

func TestGeneratorGenerateMissingFileErrors(t *testing.T) {
	g := New()
	_, err := g.Generate(filepath.Join(t.TempDir(), "missing.js"), 1, "c")
	assert.Error(t, err)
}
