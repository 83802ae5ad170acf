package agent

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/charlescaron/haystack-agent/config"
	"github.com/charlescaron/haystack-agent/dispatcher"
)

// Service builds and owns every configured agent.
type Service struct {
	agents []*Agent
	byName map[string]*Agent
	logger watermill.LoggerAdapter
}

// NewService reads all agent configurations and builds an initialized agent
// for each. Agents already initialized are closed again when a later one
// fails, so a returned error means nothing is left running.
func NewService(reader config.Reader, deps dispatcher.Deps) (*Service, error) {
	configs, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("agent: read config: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	s := &Service{
		byName: make(map[string]*Agent, len(configs)),
		logger: logger,
	}
	for _, cfg := range configs {
		if _, ok := s.byName[cfg.Name]; ok {
			s.Close()
			return nil, fmt.Errorf("agent: duplicate agent name %q", cfg.Name)
		}
		a, err := NewAgent(cfg, deps)
		if err != nil {
			s.Close()
			return nil, err
		}
		if err := a.Initialize(); err != nil {
			s.Close()
			return nil, err
		}
		s.agents = append(s.agents, a)
		s.byName[cfg.Name] = a
	}

	logger.Info("agent service started", watermill.LogFields{
		"agents": len(s.agents),
	})
	return s, nil
}

// Agents returns every running agent in configuration order.
func (s *Service) Agents() []*Agent {
	return s.agents
}

// Agent returns the agent with the given name, or false if none matches.
func (s *Service) Agent(name string) (*Agent, bool) {
	a, ok := s.byName[name]
	return a, ok
}

// Close shuts down every agent. Safe to call more than once.
func (s *Service) Close() {
	for _, a := range s.agents {
		a.Close()
	}
	s.agents = nil
	s.byName = map[string]*Agent{}
}
