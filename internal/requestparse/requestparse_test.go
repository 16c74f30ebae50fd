package requestparse

import (
	"strings"
	"testing"

	"github.com/vectorsuite/orchestrator/internal/model"
)

func TestParseRequestLineWithVersion(t *testing.T) {
	req, err := Parse("GET /api/login?user=admin&pass=1 HTTP/1.1", "http://target.example")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if req.Method != model.MethodGet {
		t.Fatalf("method = %v, want GET", req.Method)
	}
	if req.URL != "http://target.example/api/login?user=admin&pass=1" {
		t.Fatalf("url = %q", req.URL)
	}
}

func TestParseRequestLineWithoutVersion(t *testing.T) {
	req, err := Parse("POST /submit", "http://target.example")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if req.Method != model.MethodPost {
		t.Fatalf("method = %v, want POST", req.Method)
	}
}

func TestParseHeadersAndBody(t *testing.T) {
	raw := strings.Join([]string{
		"POST /submit HTTP/1.1",
		"Content-Type: application/json",
		"X-Trace: abc",
		"",
		`{"user":"admin"}`,
	}, "\n")

	req, err := Parse(raw, "http://target.example")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if v, ok := req.HeaderValue("Content-Type"); !ok || v != "application/json" {
		t.Fatalf("content-type header = %q, %v", v, ok)
	}
	if string(req.Body) != `{"user":"admin"}` {
		t.Fatalf("body = %q", req.Body)
	}
}

func TestParseAbsoluteRequestURIIgnoresBaseURL(t *testing.T) {
	req, err := Parse("GET http://other.example/x HTTP/1.1", "http://target.example")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if req.URL != "http://other.example/x" {
		t.Fatalf("url = %q", req.URL)
	}
}

func TestParseRelativeWithoutBaseURLFails(t *testing.T) {
	_, err := Parse("GET /x HTTP/1.1", "")
	if err == nil {
		t.Fatalf("expected error for relative request-uri with no base URL")
	}
}

func TestParseRelativeFallsBackToHostHeader(t *testing.T) {
	raw := "GET /x HTTP/1.1\nHost: fallback.example\n\n"
	req, err := Parse(raw, "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if req.URL != "http://fallback.example/x" {
		t.Fatalf("url = %q", req.URL)
	}
}

func TestParseMalformedRequestLine(t *testing.T) {
	_, err := Parse("not a request line at all here", "http://target.example")
	if err == nil {
		t.Fatalf("expected error for malformed request line")
	}
}

func TestParseMalformedHeaderLine(t *testing.T) {
	raw := "GET /x HTTP/1.1\nnot-a-header-line\n\nbody"
	_, err := Parse(raw, "http://target.example")
	if err == nil {
		t.Fatalf("expected error for malformed header line")
	}
}
