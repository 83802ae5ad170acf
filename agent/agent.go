// Package agent wires configured dispatchers into runnable agents.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/charlescaron/haystack-agent/config"
	"github.com/charlescaron/haystack-agent/dispatcher"
)

// Agent owns the dispatcher set of one AgentConfig. Records handed to
// Dispatch fan out to every dispatcher the config names.
type Agent struct {
	name        string
	props       map[string]map[string]any
	dispatchers []dispatcher.Dispatcher
	logger      watermill.LoggerAdapter
	tracer      trace.Tracer
}

// NewAgent builds the dispatchers named by cfg through the registry. The
// dispatchers are constructed but not yet initialized.
func NewAgent(cfg config.AgentConfig, deps dispatcher.Deps) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = watermill.NopLogger{}
	}

	a := &Agent{
		name:   cfg.Name,
		props:  make(map[string]map[string]any, len(cfg.Dispatchers)),
		logger: deps.Logger.With(watermill.LogFields{"agent": cfg.Name}),
		tracer: otel.Tracer("haystack-agent"),
	}
	for name, props := range cfg.Dispatchers {
		d, err := dispatcher.New(name, deps)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", cfg.Name, err)
		}
		a.dispatchers = append(a.dispatchers, d)
		a.props[name] = props
	}
	return a, nil
}

// Name returns the agent name from its configuration.
func (a *Agent) Name() string {
	return a.name
}

// Dispatchers returns the agent's dispatchers in construction order.
func (a *Agent) Dispatchers() []dispatcher.Dispatcher {
	return a.dispatchers
}

// Initialize initializes every dispatcher with its configured properties. If
// any dispatcher fails, the ones already initialized are closed and the
// error is returned.
func (a *Agent) Initialize() error {
	for i, d := range a.dispatchers {
		if err := d.Initialize(a.props[d.Name()]); err != nil {
			a.logger.Error("failed to initialize dispatcher", err, watermill.LogFields{
				"dispatcher": d.Name(),
			})
			a.closeAll(a.dispatchers[:i])
			return fmt.Errorf("agent %q: initialize dispatcher %q: %w", a.name, d.Name(), err)
		}
	}
	a.logger.Info("agent initialized", watermill.LogFields{
		"dispatchers": len(a.dispatchers),
	})
	return nil
}

// Dispatch hands one record to every dispatcher. Per-dispatcher errors are
// joined, so a rate limited dispatcher does not stop the record from
// reaching the others.
func (a *Agent) Dispatch(ctx context.Context, partitionKey, payload []byte) error {
	_, span := a.tracer.Start(ctx, "Agent.Dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.name", a.name),
		attribute.Int("record.bytes", len(payload)),
	)

	var errs []error
	for _, d := range a.dispatchers {
		if err := d.Dispatch(partitionKey, payload); err != nil {
			errs = append(errs, fmt.Errorf("dispatcher %q: %w", d.Name(), err))
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		return err
	}
	return nil
}

// DispatchRecord is Dispatch for callers that already hold a Record.
func (a *Agent) DispatchRecord(ctx context.Context, r dispatcher.Record) error {
	return a.Dispatch(ctx, r.PartitionKey, r.Payload)
}

// Close closes every dispatcher. Failures are logged and do not stop the
// remaining dispatchers from closing.
func (a *Agent) Close() {
	a.logger.Info("closing agent", nil)
	a.closeAll(a.dispatchers)
}

func (a *Agent) closeAll(dispatchers []dispatcher.Dispatcher) {
	for _, d := range dispatchers {
		if err := d.Close(); err != nil {
			a.logger.Error("failed to close dispatcher", err, watermill.LogFields{
				"dispatcher": d.Name(),
			})
		}
	}
}
