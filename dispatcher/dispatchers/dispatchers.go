// Package dispatchers imports all built-in dispatch backends for
// auto-registration. Import this package to have every backend registered
// with the default registry.
package dispatchers

import (
	// Import all backends for side-effect registration
	_ "github.com/charlescaron/haystack-agent/dispatcher/http"
	_ "github.com/charlescaron/haystack-agent/dispatcher/kafka"
	_ "github.com/charlescaron/haystack-agent/dispatcher/kinesis"
	_ "github.com/charlescaron/haystack-agent/dispatcher/nats"
	_ "github.com/charlescaron/haystack-agent/dispatcher/rabbitmq"
	_ "github.com/charlescaron/haystack-agent/dispatcher/sns"
)
