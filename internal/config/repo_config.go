package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sevigo/build-warden/internal/core"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrConfigParsing  = errors.New("config parsing failed")
)

// LoadPipelineFile loads and parses the pipeline file. Built-in pipelines are
// always present; a pipeline with the same name in the file replaces the
// built-in one. A missing file yields the defaults together with ErrConfigNotFound.
func LoadPipelineFile(path string) (*core.PipelineFile, error) {
	file := &core.PipelineFile{Pipelines: core.DefaultPipelines()}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return file, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var parsed core.PipelineFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigParsing, err)
	}

	for name, p := range parsed.Pipelines {
		if err := validatePipeline(name, p); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfigParsing, err)
		}
		file.Pipelines[name] = p
	}
	file.Repositories = parsed.Repositories
	return file, nil
}

func validatePipeline(name string, p core.Pipeline) error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("pipeline %q has no steps", name)
	}
	names := make(map[string]struct{}, len(p.Steps))
	for i, s := range p.Steps {
		if s.Name == "" {
			return fmt.Errorf("pipeline %q step %d has no name", name, i)
		}
		if len(s.Command) == 0 || s.Command[0] == "" {
			return fmt.Errorf("pipeline %q step %q has no command", name, s.Name)
		}
		if s.Timeout < 0 {
			return fmt.Errorf("pipeline %q step %q has a negative timeout", name, s.Name)
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("pipeline %q has duplicate step %q", name, s.Name)
		}
		names[s.Name] = struct{}{}
	}
	return nil
}
