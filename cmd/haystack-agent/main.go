// haystack-agent runs the dispatchers configured in an agent file and
// exposes their Prometheus metrics over HTTP. It is the daemon form of the
// library: build it, point --config at a YAML or JSON agent file, and send
// it SIGINT or SIGTERM to flush and exit.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/charlescaron/haystack-agent/agent"
	"github.com/charlescaron/haystack-agent/config"
	"github.com/charlescaron/haystack-agent/dispatcher"
	_ "github.com/charlescaron/haystack-agent/dispatcher/dispatchers"
	"github.com/charlescaron/haystack-agent/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		metricsAddr string
		logLevel    string
	)

	flagSet := pflag.NewFlagSet("haystack-agent", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "agents.yaml", "path to the agent configuration file")
	flagSet.StringVar(&metricsAddr, "metrics-addr", ":9090", "listen address for the Prometheus /metrics endpoint (empty disables it)")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, or error")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	level, err := parseLevel(logLevel)
	if err != nil {
		return err
	}
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	logger := watermill.NewSlogLogger(slogger)

	registry := prometheus.NewRegistry()
	svc, err := agent.NewService(config.NewFileReader(configPath), dispatcher.Deps{
		Logger:  logger,
		Metrics: metrics.NewSink(registry),
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error("metrics endpoint stopped", err, nil)
			}
		}()
		slogger.Info("serving metrics", "addr", metricsAddr)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	slogger.Info("shutting down", "signal", sig.String())
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
