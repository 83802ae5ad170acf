// Package config holds the declarative agent configuration model and the
// readers that produce it from YAML or JSON files.
package config

import (
	"fmt"
	"strings"
)

// AgentConfig describes one logical telemetry stream: its name, free-form
// agent-level properties, and the per-dispatcher property bags keyed by
// dispatcher type name. Instances are read once at startup and never mutated.
type AgentConfig struct {
	Name        string                    `yaml:"name" json:"name"`
	Props       map[string]any            `yaml:"props" json:"props"`
	Dispatchers map[string]map[string]any `yaml:"dispatchers" json:"dispatchers"`
}

// Validate checks the structural invariants of an AgentConfig. Dispatcher
// type names are unique by construction (map keys), so only name and
// dispatcher presence need checking.
func (c *AgentConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("agent config: name is required")
	}
	if len(c.Dispatchers) == 0 {
		return fmt.Errorf("agent config %q: at least one dispatcher is required", c.Name)
	}
	return nil
}

// credentialKeys are never printed verbatim.
var credentialKeys = map[string]struct{}{
	"AwsSecretAccessKey": {},
	"AwsAccessKeyId":     {},
	"Password":           {},
	"Token":              {},
}

func (c AgentConfig) String() string {
	return fmt.Sprintf("AgentConfig{name=%s props=%v dispatchers=%v}",
		c.Name, redacted(c.Props), redactedNested(c.Dispatchers))
}

func redacted(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		if _, sensitive := credentialKeys[k]; sensitive {
			out[k] = "***REDACTED***"
			continue
		}
		out[k] = v
	}
	return out
}

func redactedNested(dispatchers map[string]map[string]any) map[string]map[string]any {
	if dispatchers == nil {
		return nil
	}
	out := make(map[string]map[string]any, len(dispatchers))
	for name, props := range dispatchers {
		out[name] = redacted(props)
	}
	return out
}
