package main

import (
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	traceOff  = ""
	traceOTel = "otel"
	traceJSON = "json"
)

func validTraceMode(mode string) error {
	switch mode {
	case traceOff, traceOTel, traceJSON:
		return nil
	}
	return fmt.Errorf("invalid --trace %q, want %s or %s", mode, traceOTel, traceJSON)
}

// newTracerProvider exports every span synchronously to w as JSON.
func newTracerProvider(w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(sdkresource.NewSchemaless(attribute.String("service.name", "esgbuctl"))),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	), nil
}
