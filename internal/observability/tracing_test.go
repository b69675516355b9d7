package observability

import (
	"context"
	"errors"
	"testing"
)

func TestNilTracerStartIsSafe(t *testing.T) {
	var tracer *Tracer

	ctx := context.Background()
	gotCtx, span := tracer.Start(ctx, "loop.turn")
	if gotCtx != ctx {
		t.Error("nil tracer changed the context")
	}
	if span == nil {
		t.Fatal("nil tracer returned a nil span")
	}
	if span.IsRecording() {
		t.Error("nil tracer returned a recording span")
	}

	// End and error recording must be safe on the returned span.
	tracer.RecordError(span, errors.New("boom"))
	tracer.RecordError(span, nil)
	span.End()
}

func TestNoEndpointTracerIsNoOp(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "anvil-test"})
	defer shutdown(context.Background())

	ctx, turn := tracer.TraceTurn(context.Background(), "run-1", "conv-1")
	if turn.IsRecording() {
		t.Error("turn span records without a collector endpoint")
	}
	if got := GetTraceID(ctx); got != "" {
		t.Errorf("GetTraceID = %q, want empty without a collector", got)
	}

	_, gw := tracer.TraceGatewayRequest(ctx, "anthropic", "claude-x")
	tracer.RecordError(gw, errors.New("gateway unavailable"))
	gw.End()

	_, tool := tracer.TraceToolExecution(ctx, "read_file")
	tool.End()
	turn.End()
}
