// Package haystack is a config-driven agent that ships telemetry records to
// one or more downstream sinks. Each agent owns a set of dispatchers built
// from its configuration; a dispatcher accepts a partition key plus an opaque
// payload and forwards it asynchronously, bounded by an outstanding-records
// ceiling that sheds load instead of blocking the caller.
//
// Backends register themselves by name in an explicit registry. The kinesis
// backend is the reference implementation and batches records through an
// internal async producer; the kafka, nats, rabbitmq, sns, and http backends
// publish through Watermill with the same ceiling semantics. Importing the
// dispatcher/dispatchers package pulls all of them in.
//
// A minimal setup reads agent configurations from a YAML or JSON file,
// builds a Service, and hands records to the agents it returns:
//
//	reader := haystack.NewFileReader("agents.yaml")
//	svc, err := haystack.NewService(reader, haystack.Deps{Logger: logger})
//	if err != nil { ... }
//	defer svc.Close()
//	a, _ := svc.Agent("spans")
//	_ = a.Dispatch(ctx, traceID, payload)
//
// Dispatch returns a RateLimitError when a dispatcher's outstanding-records
// ceiling is exceeded; the record is dropped and retry policy is left to the
// caller. Close flushes in-flight records before releasing resources and is
// safe to call more than once.
package haystack
