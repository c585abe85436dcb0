package observe

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test. Tests using it must not run in parallel.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	useTestTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	ctx, span := StartSpan(context.Background(), "turn")
	defer span.End()
	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("len(CorrelationID) = %d, want 32", len(cid))
	}
	if _, err := hex.DecodeString(cid); err != nil {
		t.Errorf("CorrelationID %q is not hex: %v", cid, err)
	}

	ctx2, span2 := StartSpan(context.Background(), "turn")
	defer span2.End()
	if CorrelationID(ctx2) == cid {
		t.Error("two root spans share a trace ID")
	}
}

func TestStartSpan_TagsSession(t *testing.T) {
	exp := useTestTracer(t)

	ctx := WithSessionID(context.Background(), "sess-1")
	_, span := StartSpan(ctx, "chat.reply")
	span.End()
	_, plain := StartSpan(context.Background(), "plain")
	plain.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	tagged := false
	for _, kv := range spans[0].Attributes {
		if string(kv.Key) == SessionIDKey && kv.Value.AsString() == "sess-1" {
			tagged = true
		}
	}
	if !tagged {
		t.Errorf("span %q attributes = %v, want %s=sess-1", spans[0].Name, spans[0].Attributes, SessionIDKey)
	}
	if len(spans[1].Attributes) != 0 {
		t.Errorf("span without session has attributes %v", spans[1].Attributes)
	}
}

func TestSessionID(t *testing.T) {
	if got := SessionID(context.Background()); got != "" {
		t.Errorf("SessionID(background) = %q, want empty", got)
	}
	ctx := WithSessionID(context.Background(), "abc")
	if got := SessionID(ctx); got != "abc" {
		t.Errorf("SessionID = %q, want abc", got)
	}
}

func TestLogger(t *testing.T) {
	useTestTracer(t)

	spanCtx, span := StartSpan(context.Background(), "log")
	defer span.End()

	tests := []struct {
		name    string
		ctx     context.Context
		want    []string
		notWant []string
	}{
		{
			name:    "bare context",
			ctx:     context.Background(),
			notWant: []string{"trace_id", "span_id", SessionIDKey},
		},
		{
			name:    "session only",
			ctx:     WithSessionID(context.Background(), "s1"),
			want:    []string{SessionIDKey + "=s1"},
			notWant: []string{"trace_id"},
		},
		{
			name: "session and span",
			ctx:  WithSessionID(spanCtx, "s2"),
			want: []string{SessionIDKey + "=s2", "trace_id=" + CorrelationID(spanCtx), "span_id="},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			Logger(tt.ctx).Info("hello")
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(out, nw) {
					t.Errorf("log %q contains %q", out, nw)
				}
			}
		})
	}
}
