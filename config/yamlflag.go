package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v2"
)

// yamlFlag sets a pointer to a structured option from an inline YAML
// document, e.g. -opentelemetry='{serviceName: edge}'.
type yamlFlag[T any] struct {
	target **T
}

func newYamlFlag[T any](target **T) *yamlFlag[T] {
	return &yamlFlag[T]{target: target}
}

func (yf *yamlFlag[T]) decode(unmarshal func(any) error) error {
	v := new(T)
	if err := unmarshal(v); err != nil {
		return err
	}

	*yf.target = v
	return nil
}

func (yf *yamlFlag[T]) Set(value string) error {
	err := yf.decode(func(v any) error { return yaml.Unmarshal([]byte(value), v) })
	if err != nil {
		return fmt.Errorf("failed to parse yaml: %w", err)
	}

	return nil
}

func (yf *yamlFlag[T]) UnmarshalYAML(unmarshal func(any) error) error {
	return yf.decode(unmarshal)
}

// String prints the current value in the YAML flow style.
func (yf *yamlFlag[T]) String() string {
	if yf == nil || yf.target == nil || *yf.target == nil {
		return ""
	}

	b, err := yaml.Marshal(*yf.target)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(b))
}
