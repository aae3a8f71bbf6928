package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/tbourn/go-person-blocker/internal/config"
)

func keepGlobals(t *testing.T) {
	t.Helper()
	tp, prop := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func enabledCfg(name string) config.OTELConfig {
	return config.OTELConfig{Enabled: true, Insecure: true, Endpoint: "localhost:4317", ServiceName: name, SampleRatio: 1}
}

func TestSetupOTel_DisabledLeavesGlobals(t *testing.T) {
	keepGlobals(t)
	before := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Endpoint: "ignored:4317"}, ComponentServer, "v0")
	if err != nil || shutdown == nil {
		t.Fatalf("SetupOTel disabled: shutdown=%v err=%v", shutdown != nil, err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown: %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Fatalf("disabled tracing replaced the tracer provider")
	}
}

func TestSetupOTel_InstallsProviderPerComponent(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name      string
		ctx       context.Context
		insecure  bool
		component string
	}{
		{"server insecure", context.Background(), true, ComponentServer},
		{"worker tls", context.Background(), false, ComponentWorker},
		{"canceled context", canceled, true, ComponentWorker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keepGlobals(t)
			cfg := enabledCfg("person-blocker")
			cfg.Insecure = tt.insecure
			cfg.SampleRatio = 0 // nothing to flush to the absent collector

			shutdown, err := SetupOTel(tt.ctx, cfg, tt.component, "v1.2.3")
			if err != nil {
				t.Fatalf("SetupOTel: %v", err)
			}
			if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
				t.Fatalf("expected *sdktrace.TracerProvider, got %T", otel.GetTracerProvider())
			}

			// Trace context survives an inject/extract round through the propagator.
			ctx, span := otel.Tracer("test").Start(context.Background(), "process_image")
			carrier := propagation.MapCarrier{}
			otel.GetTextMapPropagator().Inject(ctx, carrier)
			span.End()
			if carrier.Get("traceparent") == "" {
				t.Fatalf("traceparent not injected")
			}

			sctx, done := context.WithTimeout(context.Background(), 250*time.Millisecond)
			defer done()
			if err := shutdown(sctx); err != nil {
				t.Fatalf("shutdown: %v", err)
			}
		})
	}
}

func TestSetupOTel_ResourceAttributes(t *testing.T) {
	keepGlobals(t)
	orig := newServiceResourceFn
	t.Cleanup(func() { newServiceResourceFn = orig })

	var got *resource.Resource
	newServiceResourceFn = func(ctx context.Context, serviceName, component, version string) (*resource.Resource, error) {
		res, err := orig(ctx, serviceName, component, version)
		got = res
		return res, err
	}

	shutdown, err := SetupOTel(context.Background(), enabledCfg("person-blocker"), ComponentWorker, "v2.0.0")
	if err != nil {
		t.Fatalf("SetupOTel: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	set := got.Set()
	want := map[attribute.Key]string{
		semconv.ServiceNameKey:    "person-blocker",
		semconv.ServiceVersionKey: "v2.0.0",
		"app.component":           ComponentWorker,
	}
	for k, v := range want {
		if val, ok := set.Value(k); !ok || val.AsString() != v {
			t.Fatalf("resource %s = %q (present=%v), want %q", k, val.AsString(), ok, v)
		}
	}
}

func TestSetupOTel_ConstructionErrorsKeepGlobals(t *testing.T) {
	origExp, origRes := newOTLPExporterFn, newServiceResourceFn
	t.Cleanup(func() { newOTLPExporterFn, newServiceResourceFn = origExp, origRes })

	tests := []struct {
		name  string
		setup func()
	}{
		{"exporter", func() {
			newOTLPExporterFn = func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
				return nil, errors.New("exporter down")
			}
		}},
		{"resource", func() {
			newServiceResourceFn = func(context.Context, string, string, string) (*resource.Resource, error) {
				return nil, errors.New("bad resource")
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keepGlobals(t)
			newOTLPExporterFn, newServiceResourceFn = origExp, origRes
			tt.setup()

			tp, prop := otel.GetTracerProvider(), otel.GetTextMapPropagator()
			if _, err := SetupOTel(context.Background(), enabledCfg("svc"), ComponentServer, "v0"); err == nil {
				t.Fatalf("expected error")
			}
			if otel.GetTracerProvider() != tp || otel.GetTextMapPropagator() != prop {
				t.Fatalf("globals changed on failure")
			}
		})
	}
}
