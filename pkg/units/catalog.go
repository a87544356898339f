// Package units loads the endpoint catalog and resolves the units an endpoint
// exposes.
package units

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Catalog is the declarative description of source endpoints, sink endpoints
// and vendor templates, usually read from ENDPOINTS_FILE.
type Catalog struct {
	Endpoints     []Endpoint     `yaml:"endpoints" validate:"dive"`
	SinkEndpoints []SinkEndpoint `yaml:"sinkEndpoints" validate:"dive"`
	Templates     []Template     `yaml:"templates" validate:"dive"`
}

// Endpoint is one configured source.
type Endpoint struct {
	ID         string                  `yaml:"id" validate:"required"`
	Vendor     string                  `yaml:"vendor"`
	DriverID   string                  `yaml:"driver" validate:"required"`
	TemplateID string                  `yaml:"template"`
	TenantID   string                  `yaml:"tenantId"`
	Config     map[string]any          `yaml:"config"`
	Units      []models.UnitDescriptor `yaml:"units" validate:"dive"`
}

// SinkEndpoint is a configured destination: which sink implementation to use
// and the configuration handed to its Begin.
type SinkEndpoint struct {
	ID     string         `yaml:"id" validate:"required"`
	SinkID string         `yaml:"sink" validate:"required"`
	Config map[string]any `yaml:"config"`
}

// Template is a vendor template. Units wins over Datasets when both are set.
type Template struct {
	ID       string                  `yaml:"id" validate:"required"`
	Vendor   string                  `yaml:"vendor"`
	Units    []models.UnitDescriptor `yaml:"units" validate:"dive"`
	Datasets []Dataset               `yaml:"datasets" validate:"dive"`
}

// Dataset is template metadata from which a unit can be synthesized.
type Dataset struct {
	ID                  string `yaml:"id" validate:"required"`
	Kind                string `yaml:"kind"`
	DisplayName         string `yaml:"displayName"`
	SupportsIncremental bool   `yaml:"supportsIncremental"`
	DefaultSinkID       string `yaml:"defaultSinkId"`
	DefaultScheduleKind string `yaml:"defaultScheduleKind"`
	CdmModelID          string `yaml:"cdmModelId"`
}

var validate = validator.New()

// Load reads and validates a YAML catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read endpoints file %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fernerrors.NewConfigurationError("units", "invalid endpoints yaml: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks required fields, duplicate ids and dangling template
// references.
func (c *Catalog) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fernerrors.NewConfigurationError("units", "invalid endpoints catalog: %v", err)
	}

	templates := make(map[string]struct{}, len(c.Templates))
	for _, t := range c.Templates {
		if _, dup := templates[t.ID]; dup {
			return fernerrors.NewConfigurationError("units", "duplicate template id %q", t.ID).WithField("templates")
		}
		templates[t.ID] = struct{}{}
	}

	seen := make(map[string]struct{}, len(c.Endpoints))
	for _, e := range c.Endpoints {
		if _, dup := seen[e.ID]; dup {
			return fernerrors.NewConfigurationError("units", "duplicate endpoint id %q", e.ID).WithField("endpoints")
		}
		seen[e.ID] = struct{}{}
		if e.TemplateID != "" {
			if _, ok := templates[e.TemplateID]; !ok {
				return fernerrors.NewConfigurationError("units", "endpoint %q references unknown template %q", e.ID, e.TemplateID).WithField("template")
			}
		}
	}

	sinks := make(map[string]struct{}, len(c.SinkEndpoints))
	for _, s := range c.SinkEndpoints {
		if _, dup := sinks[s.ID]; dup {
			return fernerrors.NewConfigurationError("units", "duplicate sink endpoint id %q", s.ID).WithField("sinkEndpoints")
		}
		sinks[s.ID] = struct{}{}
	}
	return nil
}
