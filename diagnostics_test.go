package lsptypes

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/myleshyson/lsprotocol-go/protocol"
)

func TestDiagnosticRegistry(t *testing.T) {
	r := NewDiagnosticRegistry()
	uri := protocol.DocumentUri("file:///a.py")

	if _, ok := r.Latest(uri); ok {
		t.Fatal("expected no report for unknown document")
	}

	first := DiagnosticsReport{
		Uri:         uri,
		Version:     ptr(int32(1)),
		Diagnostics: []protocol.Diagnostic{{Message: "first"}},
	}
	r.Update(first)

	got, ok := r.Latest(uri)
	if !ok {
		t.Fatal("expected a report")
	}
	if diff := cmp.Diff(first, got); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}

	// A later publication replaces wholesale, even when empty.
	r.Update(DiagnosticsReport{Uri: uri, Version: ptr(int32(2))})
	got, _ = r.Latest(uri)
	if len(got.Diagnostics) != 0 {
		t.Errorf("diagnostics = %v, want cleared", got.Diagnostics)
	}
	if *got.Version != 2 {
		t.Errorf("version = %d, want 2", *got.Version)
	}

	r.Forget(uri)
	if _, ok := r.Latest(uri); ok {
		t.Error("expected report to be forgotten")
	}
}

func TestDiagnosticRegistry_IgnoresStaleVersions(t *testing.T) {
	r := NewDiagnosticRegistry()
	uri := protocol.DocumentUri("file:///a.py")

	r.Update(DiagnosticsReport{Uri: uri, Version: ptr(int32(2))})

	// A report that arrives out of order must not become the latest.
	r.Update(DiagnosticsReport{
		Uri:         uri,
		Version:     ptr(int32(1)),
		Diagnostics: []protocol.Diagnostic{{Message: "stale"}},
	})
	got, _ := r.Latest(uri)
	if *got.Version != 2 {
		t.Errorf("version = %d, want 2", *got.Version)
	}
	if len(got.Diagnostics) != 0 {
		t.Errorf("diagnostics = %v, want the newer report kept", got.Diagnostics)
	}

	// Unversioned reports still replace wholesale.
	r.Update(DiagnosticsReport{Uri: uri, Diagnostics: []protocol.Diagnostic{{Message: "unversioned"}}})
	got, _ = r.Latest(uri)
	if len(got.Diagnostics) != 1 {
		t.Errorf("diagnostics = %v, want the unversioned report", got.Diagnostics)
	}
}

func TestParseDiagnosticsReport(t *testing.T) {
	raw := []byte(`{"uri":"file:///a.py","version":3,"diagnostics":[{"range":{"start":{"line":0,"character":0},"end":{"line":0,"character":5}},"message":"bad"}]}`)
	report, err := parseDiagnosticsReport(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Uri != "file:///a.py" || *report.Version != 3 || len(report.Diagnostics) != 1 {
		t.Errorf("report = %+v", report)
	}

	// Version is optional; servers without version echo omit it.
	report, err = parseDiagnosticsReport([]byte(`{"uri":"file:///a.py","diagnostics":[]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Version != nil {
		t.Errorf("version = %v, want nil", report.Version)
	}
}
