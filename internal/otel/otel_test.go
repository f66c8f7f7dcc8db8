package otel

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		raw  string
		want map[string]string
	}{
		{"", map[string]string{}},
		{"Authorization=Basic abc", map[string]string{"Authorization": "Basic abc"}},
		{" a = 1 , b=2,broken,=x", map[string]string{"a": "1", "b": "2"}},
		{"token=a=b", map[string]string{"token": "a=b"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, parseHeaders(tt.raw)); diff != "" {
			t.Errorf("parseHeaders(%q) mismatch (-want +got):\n%s", tt.raw, diff)
		}
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		raw     string
		want    endpoint
		wantErr bool
	}{
		{"http://localhost:4318", endpoint{host: "localhost:4318", insecure: true}, false},
		{"https://cloud.example.com/api/public/otel/", endpoint{host: "cloud.example.com", path: "/api/public/otel"}, false},
		{"localhost:4318", endpoint{}, true},
		{"://bad", endpoint{}, true},
	}
	for _, tt := range tests {
		got, err := parseEndpoint(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseEndpoint(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(endpoint{})); diff != "" {
			t.Errorf("parseEndpoint(%q) mismatch (-want +got):\n%s", tt.raw, diff)
		}
	}
}

func TestInitRejectsBadEndpoint(t *testing.T) {
	if _, err := Init(context.Background(), OTELConfig{Endpoint: "localhost:4318"}); err == nil {
		t.Error("Init accepted an endpoint without a scheme")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordTerminalCreated(ctx, "codex_cli", false)
	m.RecordTerminalDeleted(ctx)
	m.RecordInboxSubmitted(ctx)
	m.RecordInboxDelivered(ctx)
	m.RecordClaimRace(ctx)
	m.RecordClassification(ctx, "codex_cli", "idle")
	m.RecordHandoff(ctx, "completed")
}

func TestInitWithoutEndpoint(t *testing.T) {
	tel, err := Init(context.Background(), OTELConfig{Command: "pane-conductor test"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if tel.Metrics == nil || tel.Tracer == nil {
		t.Fatal("Init returned nil instruments")
	}
	tel.Metrics.RecordHandoff(context.Background(), "completed")
	tel.Shutdown(context.Background())

	var none *Telemetry
	none.Shutdown(context.Background())
}
