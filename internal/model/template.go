package model

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// StepTemplate defines one step of a pipeline template.
type StepTemplate struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Type        StepType `yaml:"type"`
}

// PipelineTemplate is an ordered list of step definitions for a platform.
type PipelineTemplate struct {
	Platform string         `yaml:"platform"`
	Steps    []StepTemplate `yaml:"steps"`
}

// TemplateCatalog maps platform names to pipeline templates.
type TemplateCatalog struct {
	Default   PipelineTemplate            `yaml:"default"`
	Platforms map[string]PipelineTemplate `yaml:"platforms"`
}

// NewCatalog builds a catalog around a single default template.
func NewCatalog(def PipelineTemplate) *TemplateCatalog {
	return &TemplateCatalog{Default: def}
}

// DefaultTemplate is the built-in three-stage pipeline used when no
// template file is configured.
func DefaultTemplate() PipelineTemplate {
	return PipelineTemplate{
		Steps: []StepTemplate{
			{Name: "Extract candidates", Description: "Search the platform listing and extract candidate restaurants", Type: StepTypeAutomatic},
			{Name: "Enrich contact info", Description: "Fetch contact and rating details for each candidate", Type: StepTypeActionRequired},
			{Name: "Register restaurants", Description: "Convert qualified leads into managed restaurant records", Type: StepTypeActionRequired},
		},
	}
}

// LoadTemplates reads a pipeline template catalog from a YAML file.
// Steps missing a type default to action_required so a malformed template
// can never create a self-advancing step by accident.
func LoadTemplates(path string) (*TemplateCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "model: read templates %s", path)
	}

	var wrapper struct {
		Pipelines TemplateCatalog `yaml:"pipelines"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "model: parse templates")
	}

	cat := &wrapper.Pipelines
	if len(cat.Default.Steps) == 0 {
		cat.Default = DefaultTemplate()
	}
	normalize := func(tpl *PipelineTemplate) error {
		for i := range tpl.Steps {
			if tpl.Steps[i].Type == "" {
				tpl.Steps[i].Type = StepTypeActionRequired
			}
			if !tpl.Steps[i].Type.IsValid() {
				return eris.Errorf("model: template step %q has unknown type %q", tpl.Steps[i].Name, tpl.Steps[i].Type)
			}
			if tpl.Steps[i].Name == "" {
				return eris.Errorf("model: template step %d has no name", i+1)
			}
		}
		return nil
	}
	if err := normalize(&cat.Default); err != nil {
		return nil, err
	}
	for k, tpl := range cat.Platforms {
		if err := normalize(&tpl); err != nil {
			return nil, err
		}
		cat.Platforms[k] = tpl
	}
	return cat, nil
}

// For returns the template for a platform, falling back to the default.
func (c *TemplateCatalog) For(platform string) PipelineTemplate {
	if tpl, ok := c.Platforms[platform]; ok && len(tpl.Steps) > 0 {
		return tpl
	}
	return c.Default
}
