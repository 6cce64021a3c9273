package telemetry

import (
	"context"
	"testing"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.Enabled() {
		t.Error("disabled provider reports enabled")
	}

	_, span := p.Tracer("transfer/ota").Start(context.Background(), "session")
	if span.SpanContext().IsValid() {
		t.Error("no-op tracer produced a recording span")
	}
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNew_Enabled(t *testing.T) {
	// The exporter connects lazily, so no collector is needed here.
	p, err := New(context.Background(), Config{
		Enabled:    true,
		Endpoint:   "127.0.0.1:4317",
		Insecure:   true,
		SampleRate: 1,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !p.Enabled() {
		t.Fatal("enabled provider reports disabled")
	}

	_, span := p.Tracer("transfer/diagnostics").Start(context.Background(), "session")
	if !span.SpanContext().IsValid() || !span.SpanContext().IsSampled() {
		t.Error("sampled span expected")
	}
	span.End()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The flush fails without a collector; only the call itself is checked.
	_ = p.Shutdown(ctx)
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		if got := sampler(tt.rate).Description(); got != tt.want {
			t.Errorf("sampler(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}
