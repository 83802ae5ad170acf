package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"
)

// Reader produces the ordered list of agent configurations from some
// external source.
type Reader interface {
	Read() ([]AgentConfig, error)
}

// agentFile is the top-level shape of an agent configuration document.
type agentFile struct {
	Agents []AgentConfig `yaml:"agents" json:"agents"`
}

// FileReader reads agent configurations from a YAML or JSON file, selected
// by file extension.
type FileReader struct {
	Path string
}

// NewFileReader returns a Reader over the given configuration file path.
func NewFileReader(path string) *FileReader {
	return &FileReader{Path: path}
}

func (r *FileReader) Read() ([]AgentConfig, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var file agentFile
	switch ext := strings.ToLower(filepath.Ext(r.Path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse yaml config %s: %w", r.Path, err)
		}
	case ".json":
		if err := sonic.ConfigStd.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse json config %s: %w", r.Path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config extension %q (expected .yaml, .yml or .json)", ext)
	}

	seen := make(map[string]struct{}, len(file.Agents))
	for i := range file.Agents {
		cfg := &file.Agents[i]
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate agent name %q", cfg.Name)
		}
		seen[cfg.Name] = struct{}{}
		normalizeProps(cfg)
	}
	return file.Agents, nil
}

// normalizeProps converts yaml.v3's map[any]any values (produced for nested
// mappings in some documents) into map[string]any so property bags have one
// canonical shape regardless of source format.
func normalizeProps(cfg *AgentConfig) {
	cfg.Props = normalizeMap(cfg.Props)
	for name, props := range cfg.Dispatchers {
		cfg.Dispatchers[name] = normalizeMap(props)
	}
}

func normalizeMap(in map[string]any) map[string]any {
	for k, v := range in {
		in[k] = normalizeValue(v)
	}
	return in
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeValue(val)
		}
		return out
	case map[string]any:
		return normalizeMap(t)
	case []any:
		for i, item := range t {
			t[i] = normalizeValue(item)
		}
		return t
	default:
		return v
	}
}
