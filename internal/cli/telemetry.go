package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/roach88/batteries/internal/metrics"
)

// Telemetry owns the metrics registry and tracer provider of one command
// invocation. --metrics and --trace name where they are written; "-" means
// stderr and "" disables the output.
type Telemetry struct {
	registry *prometheus.Registry
	metrics  *metrics.Collectors
	provider *sdktrace.TracerProvider // nil when tracing is disabled

	metricsTo string
	errOut    io.Writer
	closers   []io.Closer
}

// NewTelemetry builds the registry and, when opts.TracePath is set, a tracer
// provider exporting to it.
func NewTelemetry(opts *RootOptions, errOut io.Writer) (*Telemetry, error) {
	reg := prometheus.NewRegistry()
	t := &Telemetry{
		registry:  reg,
		metrics:   metrics.New(reg),
		metricsTo: opts.MetricsPath,
		errOut:    errOut,
	}
	if opts.TracePath != "" {
		w, err := t.open(opts.TracePath)
		if err != nil {
			return nil, fmt.Errorf("open trace output: %w", err)
		}
		t.provider = sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(NewJSONSpanExporter(w))),
		)
	}
	return t, nil
}

// TracerProvider returns the SDK provider, or a no-op one when tracing is off.
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	if t.provider == nil {
		return noop.NewTracerProvider()
	}
	return t.provider
}

func (t *Telemetry) open(path string) (io.Writer, error) {
	if path == "-" {
		return t.errOut, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	t.closers = append(t.closers, f)
	return f, nil
}

// Flush ends tracing, writes the metrics exposition and closes outputs.
func (t *Telemetry) Flush(ctx context.Context) error {
	var errs []error
	if t.provider != nil {
		errs = append(errs, t.provider.Shutdown(ctx))
	}
	if t.metricsTo != "" {
		errs = append(errs, t.writeMetrics())
	}
	for _, c := range t.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func (t *Telemetry) writeMetrics() error {
	w, err := t.open(t.metricsTo)
	if err != nil {
		return fmt.Errorf("open metrics output: %w", err)
	}
	families, err := t.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

// JSONSpanExporter writes each finished span as one JSON line.
type JSONSpanExporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONSpanExporter creates an exporter writing to w.
func NewJSONSpanExporter(w io.Writer) *JSONSpanExporter {
	return &JSONSpanExporter{w: w}
}

type spanLine struct {
	Name       string            `json:"name"`
	TraceID    string            `json:"trace_id"`
	SpanID     string            `json:"span_id"`
	Start      time.Time         `json:"start"`
	DurationMS float64           `json:"duration_ms"`
	Status     string            `json:"status"`
	Error      string            `json:"error,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *JSONSpanExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	enc := json.NewEncoder(e.w)
	for _, span := range spans {
		line := spanLine{
			Name:       span.Name(),
			TraceID:    span.SpanContext().TraceID().String(),
			SpanID:     span.SpanContext().SpanID().String(),
			Start:      span.StartTime().UTC(),
			DurationMS: float64(span.EndTime().Sub(span.StartTime())) / float64(time.Millisecond),
			Status:     span.Status().Code.String(),
			Error:      span.Status().Description,
		}
		if attrs := span.Attributes(); len(attrs) > 0 {
			line.Attributes = make(map[string]string, len(attrs))
			for _, kv := range attrs {
				line.Attributes[string(kv.Key)] = kv.Value.Emit()
			}
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *JSONSpanExporter) Shutdown(context.Context) error {
	return nil
}

func flushTelemetry(ctx context.Context, tel *Telemetry, formatter *OutputFormatter) {
	if err := tel.Flush(ctx); err != nil {
		formatter.VerboseLog("flush telemetry: %v", err)
	}
}
