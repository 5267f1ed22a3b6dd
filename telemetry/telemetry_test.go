package telemetry

import (
	"context"
	"testing"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), "order-api", Config{Enabled: true})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupDisabledIgnoresEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), "order-api", Config{Enabled: false, Endpoint: "http://collector:4318"})
	if err != nil || shutdown == nil {
		t.Fatalf("unexpected setup result: %v", err)
	}
}
