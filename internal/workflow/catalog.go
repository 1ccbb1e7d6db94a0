package workflow

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/gao-dev/gao-dev/pkg/models"
)

// Catalog holds the base step sequence for each scale level. The
// built-in catalog can be overridden per scale by YAML files named
// scale-<n>.yaml in a catalog directory.
type Catalog struct {
	plans map[models.ScaleLevel][]models.WorkflowStep
}

// step is shorthand for building catalog entries; deps reference
// earlier steps in the same sequence.
func step(name string, phase models.Phase, deps ...int) models.WorkflowStep {
	return models.WorkflowStep{Name: name, Phase: phase, Required: true, DependsOn: deps}
}

// NewCatalog returns the built-in catalog.
func NewCatalog() *Catalog {
	return &Catalog{plans: map[models.ScaleLevel][]models.WorkflowStep{
		models.ScaleChore: {
			step("implement-chore", models.PhaseImplementation),
			step("commit", models.PhaseImplementation, 0),
		},
		models.ScaleBugFix: {
			step("reproduce-bug", models.PhaseAnalysis),
			step("fix", models.PhaseImplementation, 0),
			step("test", models.PhaseImplementation, 1),
		},
		models.ScaleSmallFeature: {
			step("draft-prd", models.PhasePlanning),
			step("create-stories", models.PhasePlanning, 0),
			step("implement-stories", models.PhaseImplementation, 1),
			step("test-feature", models.PhaseImplementation, 2),
		},
		models.ScaleFeature: {
			step("draft-prd", models.PhasePlanning),
			step("draft-architecture", models.PhaseSolutioning, 0),
			step("create-epics", models.PhasePlanning, 1),
			step("create-stories", models.PhasePlanning, 2),
			step("implement-stories", models.PhaseImplementation, 3),
			step("test-feature", models.PhaseImplementation, 4),
		},
		models.ScaleGreenfield: {
			step("elicit-vision", models.PhaseAnalysis),
			step("draft-prd", models.PhasePlanning, 0),
			step("draft-architecture", models.PhaseSolutioning, 1),
			step("create-epics", models.PhasePlanning, 2),
			step("create-stories", models.PhasePlanning, 3),
			step("implement-stories", models.PhaseImplementation, 4),
			step("integration-test", models.PhaseImplementation, 5),
		},
	}}
}

// LoadCatalog returns the built-in catalog with per-scale overrides
// from dir applied. Missing files keep the built-in sequence; present
// files replace it wholesale after validation.
func LoadCatalog(dir string) (*Catalog, error) {
	c := NewCatalog()
	if dir == "" {
		return c, nil
	}

	for scale := models.ScaleChore; scale <= models.ScaleGreenfield; scale++ {
		path := filepath.Join(dir, fmt.Sprintf("scale-%d.yaml", int(scale)))
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read catalog %s: %w", path, err)
		}

		var steps []models.WorkflowStep
		if err := yaml.Unmarshal(data, &steps); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}
		p := Plan{Steps: steps}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
		}
		c.plans[scale] = steps
	}
	return c, nil
}

// Base returns a copy of the base step sequence for a scale level.
func (c *Catalog) Base(scale models.ScaleLevel) ([]models.WorkflowStep, error) {
	steps, ok := c.plans[scale]
	if !ok {
		return nil, fmt.Errorf("no base plan for scale level %d", int(scale))
	}

	out := make([]models.WorkflowStep, len(steps))
	for i, s := range steps {
		out[i] = s
		out[i].DependsOn = append([]int(nil), s.DependsOn...)
		if s.Metadata != nil {
			out[i].Metadata = make(map[string]string, len(s.Metadata))
			for k, v := range s.Metadata {
				out[i].Metadata[k] = v
			}
		}
	}
	return out, nil
}
