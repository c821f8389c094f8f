package roast

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func first(int) int { return 0 }

func TestEmbeddedTemplates(t *testing.T) {
	p, err := NewTemplateProvider("")
	require.NoError(t, err)
	p.WithPicker(first)

	c, err := p.NextRoundContent("Jester_AI", "SarcasmBot", 1)
	require.NoError(t, err)
	require.Len(t, c.Lines, 2)
	assert.Equal(t, "Jester_AI", c.Lines[0].Speaker)
	assert.Equal(t, "SarcasmBot", c.Lines[0].Target)
	assert.Contains(t, c.Lines[0].Text, "SarcasmBot")
	assert.Equal(t, "SarcasmBot", c.Lines[1].Speaker)
}

func TestEvenRoundSwapsOpener(t *testing.T) {
	p, err := NewTemplateProvider("")
	require.NoError(t, err)

	c, err := p.NextRoundContent("Jester_AI", "SarcasmBot", 2)
	require.NoError(t, err)
	assert.Equal(t, "SarcasmBot", c.Lines[0].Speaker)
	assert.Equal(t, 2, c.Round)
}

func TestUnknownSpeakerUsesFallback(t *testing.T) {
	p, err := ParseTemplates([]byte(`
fallback: Base
roasts:
  Base:
    - "hello {target}"
`))
	require.NoError(t, err)

	c, err := p.NextRoundContent("Newcomer", "Other", 1)
	require.NoError(t, err)
	assert.Equal(t, "hello Other", c.Lines[0].Text)
	assert.Equal(t, "hello Newcomer", c.Lines[1].Text)
}

func TestTemplatesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roasts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fallback: X\nroasts:\n  X: [\"only line\"]\n"), 0o600))

	p, err := NewTemplateProvider(path)
	require.NoError(t, err)
	c, err := p.NextRoundContent("X", "Y", 3)
	require.NoError(t, err)
	assert.Equal(t, "only line", c.Lines[0].Text)
}

func TestParseTemplates_Invalid(t *testing.T) {
	_, err := ParseTemplates([]byte("fallback: Missing\nroasts: {}\n"))
	assert.Error(t, err)

	_, err = NewTemplateProvider(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseTemplates_RejectsEmptyLines(t *testing.T) {
	_, err := ParseTemplates([]byte("fallback: A\nroasts:\n  A: [\"fine\"]\n  B: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")

	_, err = ParseTemplates([]byte("fallback: A\nroasts:\n  A: [\"fine\", \"\"]\n"))
	assert.Error(t, err)

	_, err = ParseTemplates([]byte("roasts:\n  A: [\"fine\"]\n"))
	assert.Error(t, err)
}
