package scenarios

import (
	_ "embed"
	"fmt"

	"github.com/aristath/riskengine/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

type catalogFile struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// Catalog returns the canned scenarios shipped with the engine.
func Catalog() ([]Scenario, error) {
	return ParseCatalog(catalogYAML)
}

// ParseCatalog decodes a YAML scenario catalog and validates every entry.
func ParseCatalog(data []byte) ([]Scenario, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: failed to parse scenario catalog: %v", domain.ErrInvalidConfiguration, err)
	}
	if err := validateAll(file.Scenarios); err != nil {
		return nil, err
	}
	return file.Scenarios, nil
}

// CatalogScenario looks a canned scenario up by name.
func CatalogScenario(name string) (Scenario, error) {
	all, err := Catalog()
	if err != nil {
		return Scenario{}, err
	}
	for _, s := range all {
		if s.Name == name {
			return s, nil
		}
	}
	return Scenario{}, fmt.Errorf("%w: unknown scenario %q", domain.ErrInvalidConfiguration, name)
}

func validateAll(scenarios []Scenario) error {
	seen := make(map[string]bool, len(scenarios))
	for _, s := range scenarios {
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate scenario name %q", domain.ErrInvalidConfiguration, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}
