package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemplateFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTemplates(t *testing.T) {
	t.Parallel()

	path := writeTemplateFile(t, `
pipelines:
  default:
    steps:
      - name: Extract
        type: automatic
      - name: Review
        description: Operator review of extracted leads
  platforms:
    ubereats:
      steps:
        - name: Scrape listing
          type: automatic
        - name: Enrich
          type: action_required
        - name: Qualify
        - name: Register
`)

	catalog, err := LoadTemplates(path)
	require.NoError(t, err)

	require.Len(t, catalog.Default.Steps, 2)
	assert.Equal(t, StepTypeAutomatic, catalog.Default.Steps[0].Type)
	// Steps without an explicit type never self-advance.
	assert.Equal(t, StepTypeActionRequired, catalog.Default.Steps[1].Type)

	ue := catalog.For("ubereats")
	require.Len(t, ue.Steps, 4)
	assert.Equal(t, StepTypeActionRequired, ue.Steps[2].Type)

	// Unknown platform falls back to the default pipeline.
	assert.Len(t, catalog.For("doordash").Steps, 2)
}

func TestLoadTemplatesDefaultsWhenMissing(t *testing.T) {
	t.Parallel()

	path := writeTemplateFile(t, `
pipelines:
  platforms:
    glovo:
      steps:
        - name: Scrape
          type: automatic
`)

	catalog, err := LoadTemplates(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTemplate().Steps, catalog.Default.Steps)
}

func TestLoadTemplatesRejectsUnknownType(t *testing.T) {
	t.Parallel()

	path := writeTemplateFile(t, `
pipelines:
  default:
    steps:
      - name: Extract
        type: magic
`)

	_, err := LoadTemplates(path)
	assert.Error(t, err)
}

func TestLoadTemplatesRejectsUnnamedStep(t *testing.T) {
	t.Parallel()

	path := writeTemplateFile(t, `
pipelines:
  default:
    steps:
      - type: automatic
`)

	_, err := LoadTemplates(path)
	assert.Error(t, err)
}

func TestLoadTemplatesMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadTemplates(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDefaultTemplate(t *testing.T) {
	t.Parallel()

	tpl := DefaultTemplate()
	require.Len(t, tpl.Steps, 3)
	assert.Equal(t, StepTypeAutomatic, tpl.Steps[0].Type)
	assert.Equal(t, StepTypeActionRequired, tpl.Steps[1].Type)
	assert.Equal(t, StepTypeActionRequired, tpl.Steps[2].Type)
}

func TestNewCatalog(t *testing.T) {
	t.Parallel()

	catalog := NewCatalog(DefaultTemplate())
	assert.Len(t, catalog.For("anything").Steps, 3)
}
