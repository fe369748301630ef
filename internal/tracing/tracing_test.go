package tracing

import (
	"context"
	"testing"
)

func TestInit_Disabled(t *testing.T) {
	p, err := Init(Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	ctx, span := p.StartSpan(context.Background(), "noop")
	if ctx == nil || span == nil {
		t.Fatal("Expected a context and span")
	}
	if span.SpanContext().IsValid() {
		t.Error("Expected a no-op span")
	}
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
