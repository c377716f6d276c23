package telemetry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Phase represents a lifecycle step of a run.
type Phase string

const (
	PhaseParse       Phase = "parse"
	PhaseSeed        Phase = "seed"
	PhaseInstantiate Phase = "instantiate"
	PhaseDispatch    Phase = "dispatch"
)

const instrumentationName = "github.com/dobrovols/trainctl"

// Emitter logs phase boundaries and wraps every phase in a span.
type Emitter struct {
	logger StructuredLogger
	tracer trace.Tracer
	phases metric.Int64Counter
}

// NewEmitter constructs an emitter writing through logger and the global OpenTelemetry providers.
func NewEmitter(logger StructuredLogger) *Emitter {
	if logger == nil {
		logger = Nop{}
	}
	phases, err := otel.Meter(instrumentationName).Int64Counter("trainctl.phases",
		metric.WithDescription("Completed run phases by outcome"))
	if err != nil {
		otel.Handle(err)
	}
	return &Emitter{logger: logger, tracer: otel.Tracer(instrumentationName), phases: phases}
}

// EmitPhase publishes start and completion events while executing fn.
func (e *Emitter) EmitPhase(ctx context.Context, phase Phase, metadata map[string]string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "trainctl."+string(phase), trace.WithAttributes(attributes(metadata)...))
	defer span.End()

	if err := e.logger.Emit(Entry{
		Category: CategoryWorkflow,
		Message:  string(phase) + " started",
		Step:     string(phase),
		Metadata: withOutcome(metadata, "start", 0),
	}); err != nil {
		return fmt.Errorf("emit start event: %w", err)
	}

	err := fn(ctx)
	outcome := "success"
	if err != nil {
		outcome = "failure"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if e.phases != nil {
		e.phases.Add(ctx, 1, metric.WithAttributes(
			attribute.String("phase", string(phase)),
			attribute.String("outcome", outcome),
		))
	}

	emitErr := e.logger.Emit(Entry{
		Category: CategoryWorkflow,
		Message:  string(phase) + " " + outcome,
		Step:     string(phase),
		Metadata: withOutcome(metadata, outcome, time.Since(start)),
		Error:    err,
	})
	if err != nil {
		return err
	}
	if emitErr != nil {
		return fmt.Errorf("emit completion event: %w", emitErr)
	}
	return nil
}

func withOutcome(metadata map[string]string, outcome string, d time.Duration) map[string]string {
	out := make(map[string]string, len(metadata)+2)
	for k, v := range metadata {
		out[k] = v
	}
	out["outcome"] = outcome
	if d > 0 {
		out["duration"] = d.String()
	}
	return out
}

func attributes(metadata map[string]string) []attribute.KeyValue {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, metadata[k]))
	}
	return attrs
}
