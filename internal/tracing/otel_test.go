package tracing

import (
	"context"
	"testing"

	"github.com/shuv1337/shuvbot/internal/config"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetup_EnabledWithoutEndpoint(t *testing.T) {
	if _, err := Setup(context.Background(), config.TelemetryConfig{Enabled: true}); err == nil {
		t.Fatal("expected error when endpoint is empty")
	}
}

func TestSetup_HTTPExporter(t *testing.T) {
	cfg := config.TelemetryConfig{Enabled: true, Endpoint: "127.0.0.1:4318", Protocol: "http", Insecure: true, ServiceName: "shuvbot-test"}
	shutdown, err := Setup(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Nothing was exported, so shutdown has nothing to flush.
	_ = shutdown(ctx)
}
