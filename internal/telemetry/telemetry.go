// Package telemetry turns finished trace spans into log lines.
package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Output owns a tracer provider whose spans are reported through slog.
type Output struct {
	provider *sdktrace.TracerProvider
}

// New returns an Output that logs every finished span at level. A nil
// logger yields an Output whose tracers are the global no-op ones.
func New(logger *slog.Logger, level slog.Level) *Output {
	if logger == nil {
		return &Output{}
	}
	processor := &logSpanProcessor{logger: logger.With("component", "trace"), level: level}
	return &Output{provider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(processor))}
}

// Tracer returns a named tracer.
func (o *Output) Tracer(name string) trace.Tracer {
	if o == nil || o.provider == nil {
		return otel.Tracer(name)
	}
	return o.provider.Tracer(name)
}

// Close shuts the provider down.
func (o *Output) Close() {
	if o == nil || o.provider == nil {
		return
	}
	_ = o.provider.Shutdown(context.Background())
}

type logSpanProcessor struct {
	logger *slog.Logger
	level  slog.Level
}

func (p *logSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logSpanProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	if p == nil || p.logger == nil {
		return
	}

	level := p.level
	args := []any{
		"span", span.Name(),
		"duration", span.EndTime().Sub(span.StartTime()).Round(time.Microsecond).String(),
	}
	for _, attr := range span.Attributes() {
		args = append(args, string(attr.Key), attributeString(attr))
	}

	status := span.Status()
	if status.Code == codes.Error {
		level = slog.LevelWarn
		if msg := strings.TrimSpace(status.Description); msg != "" {
			args = append(args, "status", msg)
		}
	}
	p.logger.Log(context.Background(), level, "span finished", args...)
}

func (p *logSpanProcessor) Shutdown(context.Context) error {
	return nil
}

func (p *logSpanProcessor) ForceFlush(context.Context) error {
	return nil
}

func attributeString(attr attribute.KeyValue) string {
	return attr.Value.Emit()
}
