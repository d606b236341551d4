package otel

import "testing"

func TestFromEnvironment(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", " collector:4318 ")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "authorization=Bearer abc, x-tenant=dex")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")

	cfg := FromEnvironment("solverd", "staging")
	if cfg.ServiceName != "solverd" || cfg.Environment != "staging" {
		t.Fatalf("identity not carried: %+v", cfg)
	}
	if cfg.Endpoint != "collector:4318" {
		t.Fatalf("endpoint = %q, want trimmed collector:4318", cfg.Endpoint)
	}
	if cfg.Insecure {
		t.Fatalf("OTEL_EXPORTER_OTLP_INSECURE=false must disable insecure transport")
	}
	if !cfg.Metrics || !cfg.Traces {
		t.Fatalf("both signals must default on")
	}
	if cfg.Headers["authorization"] != "Bearer abc" || cfg.Headers["x-tenant"] != "dex" {
		t.Fatalf("headers = %v", cfg.Headers)
	}
}

func TestFromEnvironmentDefaults(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "")

	cfg := FromEnvironment("solverd", "")
	if cfg.Endpoint != "" {
		t.Fatalf("endpoint = %q, want empty so Init applies its default", cfg.Endpoint)
	}
	if !cfg.Insecure {
		t.Fatalf("insecure must default on for local collectors")
	}
	if len(cfg.Headers) != 0 {
		t.Fatalf("headers = %v, want none", cfg.Headers)
	}
}

func TestParseHeadersSkipsMalformedPairs(t *testing.T) {
	headers := parseHeaders("a=1,,broken, =nokey ,b = 2 ")
	if len(headers) != 2 {
		t.Fatalf("headers = %v, want exactly a and b", headers)
	}
	if headers["a"] != "1" || headers["b"] != "2" {
		t.Fatalf("headers = %v", headers)
	}
}
