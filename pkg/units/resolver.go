package units

import (
	"github.com/Gobusters/ectolinq"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Resolver answers unit and endpoint lookups against a catalog.
type Resolver struct {
	catalog *Catalog
}

func NewResolver(catalog *Catalog) *Resolver {
	if catalog == nil {
		catalog = &Catalog{}
	}
	return &Resolver{catalog: catalog}
}

func (r *Resolver) Endpoint(endpointID string) (Endpoint, error) {
	for _, e := range r.catalog.Endpoints {
		if e.ID == endpointID {
			return e, nil
		}
	}
	return Endpoint{}, fernerrors.NotFoundf("endpoint %q not found", endpointID)
}

func (r *Resolver) SinkEndpoint(id string) (SinkEndpoint, error) {
	for _, s := range r.catalog.SinkEndpoints {
		if s.ID == id {
			return s, nil
		}
	}
	return SinkEndpoint{}, fernerrors.NotFoundf("sink endpoint %q not found", id)
}

func (r *Resolver) Endpoints() []Endpoint {
	return r.catalog.Endpoints
}

func (r *Resolver) template(id string) (Template, bool) {
	for _, t := range r.catalog.Templates {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}

// ListUnits resolves the units of an endpoint: its explicit units, else the
// template's declared units, else units synthesized from the template's
// datasets, else none.
func (r *Resolver) ListUnits(endpointID string) ([]models.UnitDescriptor, error) {
	endpoint, err := r.Endpoint(endpointID)
	if err != nil {
		return nil, err
	}
	if len(endpoint.Units) > 0 {
		return endpoint.Units, nil
	}

	tmpl, ok := r.template(endpoint.TemplateID)
	if !ok {
		return []models.UnitDescriptor{}, nil
	}
	if len(tmpl.Units) > 0 {
		return tmpl.Units, nil
	}
	return ectolinq.Map(tmpl.Datasets, FromDataset), nil
}

// Unit finds one unit of an endpoint.
func (r *Resolver) Unit(endpointID, unitID string) (models.UnitDescriptor, error) {
	units, err := r.ListUnits(endpointID)
	if err != nil {
		return models.UnitDescriptor{}, err
	}
	for _, u := range units {
		if u.UnitID == unitID {
			return u, nil
		}
	}
	return models.UnitDescriptor{}, fernerrors.NotFoundf("unit %q not found on endpoint %q", unitID, endpointID)
}

// FromDataset synthesizes a unit descriptor from template dataset metadata.
func FromDataset(d Dataset) models.UnitDescriptor {
	modes := []models.RunMode{models.RunModeFull}
	defaultMode := models.RunModeFull
	if d.SupportsIncremental {
		modes = append(modes, models.RunModeIncremental)
		defaultMode = models.RunModeIncremental
	}
	name := d.DisplayName
	if name == "" {
		name = d.ID
	}
	return models.UnitDescriptor{
		UnitID:              d.ID,
		DatasetID:           d.ID,
		Kind:                d.Kind,
		DisplayName:         name,
		DefaultMode:         defaultMode,
		SupportedModes:      modes,
		DefaultSinkID:       d.DefaultSinkID,
		DefaultScheduleKind: d.DefaultScheduleKind,
		CdmModelID:          d.CdmModelID,
	}
}

// ValidateMode rejects a mode the unit does not support.
func ValidateMode(unit models.UnitDescriptor, mode models.RunMode) error {
	if unit.Supports(mode) {
		return nil
	}
	return fernerrors.NewConfigurationError("units", "unit %q does not support %s runs", unit.UnitID, mode).WithField("mode")
}
