package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadScenario decodes a YAML (or JSON) scenario from r on top of
// DefaultScenario and validates the result. Unknown keys are rejected.
// When num_clusters is omitted every listed cluster is active; an explicit
// value, zero included, is validated as given.
func LoadScenario(r io.Reader) (Scenario, error) {
	if r == nil {
		return Scenario{}, fmt.Errorf("load scenario: nil reader")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}

	scn := DefaultScenario()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&scn); err != nil && !errors.Is(err, io.EOF) {
		return Scenario{}, fmt.Errorf("decode scenario: %w", err)
	}

	var explicit struct {
		NumClusters *int `yaml:"num_clusters"`
	}
	if err := yaml.Unmarshal(data, &explicit); err != nil {
		return Scenario{}, fmt.Errorf("decode scenario: %w", err)
	}
	if explicit.NumClusters == nil {
		scn.NumClusters = len(scn.Clusters)
	}
	for i := range scn.Clusters {
		scn.Clusters[i].Pattern = ParsePattern(string(scn.Clusters[i].Pattern))
	}

	if err := scn.Validate(); err != nil {
		return Scenario{}, err
	}
	return scn, nil
}

// LoadScenarioFile opens path and passes it to LoadScenario.
func LoadScenarioFile(path string) (Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()

	scn, err := LoadScenario(f)
	if err != nil {
		return Scenario{}, fmt.Errorf("%s: %w", path, err)
	}
	return scn, nil
}
