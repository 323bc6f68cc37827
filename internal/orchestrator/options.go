package orchestrator

import (
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

type orchestratorConfig struct {
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*orchestratorConfig) error

// WithLogger sets the logger used by the orchestrator, its merge and its
// dispatcher. Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *orchestratorConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithTracer sets the tracer for dispatch spans. Returns an error if the
// tracer is nil.
func WithTracer(tracer trace.Tracer) Option {
	return func(cfg *orchestratorConfig) error {
		if tracer == nil {
			return errors.New("tracer cannot be nil")
		}
		cfg.tracer = tracer
		return nil
	}
}
