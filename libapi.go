package haystack

import (
	"github.com/prometheus/client_golang/prometheus"

	agentpkg "github.com/charlescaron/haystack-agent/agent"
	configpkg "github.com/charlescaron/haystack-agent/config"
	dispatcherpkg "github.com/charlescaron/haystack-agent/dispatcher"
	metricspkg "github.com/charlescaron/haystack-agent/metrics"
)

type (
	AgentConfig  = configpkg.AgentConfig
	ConfigReader = configpkg.Reader
	FileReader   = configpkg.FileReader

	Dispatcher = dispatcherpkg.Dispatcher
	Record     = dispatcherpkg.Record
	Deps       = dispatcherpkg.Deps
	Builder    = dispatcherpkg.Builder
	Registry   = dispatcherpkg.Registry

	RateLimitError = dispatcherpkg.RateLimitError

	Agent   = agentpkg.Agent
	Service = agentpkg.Service

	MetricsSink = metricspkg.Sink
)

var (
	ErrNotInitialized     = dispatcherpkg.ErrNotInitialized
	ErrAlreadyInitialized = dispatcherpkg.ErrAlreadyInitialized
	ErrClosed             = dispatcherpkg.ErrClosed
)

// NewFileReader returns a ConfigReader backed by a YAML or JSON file.
func NewFileReader(path string) *FileReader {
	return configpkg.NewFileReader(path)
}

// NewAgent builds an agent from one AgentConfig without initializing it.
func NewAgent(cfg AgentConfig, deps Deps) (*Agent, error) {
	return agentpkg.NewAgent(cfg, deps)
}

// NewService reads all agent configurations and starts an agent for each.
func NewService(reader ConfigReader, deps Deps) (*Service, error) {
	return agentpkg.NewService(reader, deps)
}

// NewMetricsSink creates a metrics sink. A nil registerer gets a private
// registry.
func NewMetricsSink(registerer prometheus.Registerer) *MetricsSink {
	return metricspkg.NewSink(registerer)
}

// RegisterDispatcher adds a dispatcher builder to the default registry.
func RegisterDispatcher(name string, builder Builder) {
	dispatcherpkg.Register(name, builder)
}

// NewDispatcher constructs an uninitialized dispatcher by registered name.
func NewDispatcher(name string, deps Deps) (Dispatcher, error) {
	return dispatcherpkg.New(name, deps)
}

// IsRateLimit reports whether err is (or wraps) a RateLimitError.
func IsRateLimit(err error) bool {
	return dispatcherpkg.IsRateLimit(err)
}
