package logging

import (
	"context"
	"io"
	"testing"
)

func BenchmarkLogger_Info(b *testing.B) {
	logger, err := New(Config{Level: "info", Format: "json", Writer: io.Discard})
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		logger.Info("test message", "key", "value", "count", i)
	}
}

func BenchmarkLogger_DebugDisabled(b *testing.B) {
	logger, err := New(Config{Level: "info", Format: "json", Writer: io.Discard})
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		logger.Debug("test message", "key", "value")
	}
}

func BenchmarkLogger_WithRedaction(b *testing.B) {
	logger, err := New(Config{Level: "info", Format: "json", RedactAttributes: true, Writer: io.Discard})
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		logger.Info("decision", "principal", "alice@example.org", "resource", "/docs")
	}
}

func BenchmarkLogger_InfoContext(b *testing.B) {
	logger, err := New(Config{Level: "info", Format: "json", Writer: io.Discard})
	if err != nil {
		b.Fatal(err)
	}
	ctx := WithDescriptor(WithRequestID(context.Background(), "req-1"), "spep-a")

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		logger.InfoContext(ctx, "cache clear sent", "index", 0)
	}
}
