package process

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig is one entry of the runtime registry: the command that starts
// a local runtime speaking the protocol on its stdio.
type RuntimeConfig struct {
	Name        string            `yaml:"name"`
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args"`
	Environment map[string]string `yaml:"env"`
	Description string            `yaml:"description"`
}

// Registry is the on-disk layout of runtimes.yaml (or runtimes.json).
type Registry struct {
	Runtimes []RuntimeConfig `yaml:"runtimes"`
}

// LoadRuntimes reads the runtime registry at path, keyed by runtime name.
// JSON files go through the same decoder since JSON is valid YAML. A missing
// registry means no process endpoint can be dialed, which is not an error here.
func LoadRuntimes(path string) (map[string]RuntimeConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]RuntimeConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read runtime registry: %w", err)
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse runtime registry %s: %w", path, err)
	}

	runtimes := make(map[string]RuntimeConfig, len(reg.Runtimes))
	var errs []error
	for i, rt := range reg.Runtimes {
		switch {
		case rt.Name == "":
			errs = append(errs, fmt.Errorf("runtime #%d has no name", i+1))
		case rt.Command == "":
			errs = append(errs, fmt.Errorf("runtime %q has no command", rt.Name))
		default:
			if _, dup := runtimes[rt.Name]; dup {
				errs = append(errs, fmt.Errorf("runtime %q is registered twice", rt.Name))
				continue
			}
			runtimes[rt.Name] = rt
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid runtime registry %s: %w", path, err)
	}
	return runtimes, nil
}
