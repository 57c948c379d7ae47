package lsptypes

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/myleshyson/lsprotocol-go/protocol"
)

// DiagnosticsReport is one textDocument/publishDiagnostics payload. Version
// is nil when the server does not echo document versions.
type DiagnosticsReport struct {
	Uri         protocol.DocumentUri  `json:"uri"`
	Version     *int32                `json:"version,omitempty"`
	Diagnostics []protocol.Diagnostic `json:"diagnostics"`
}

func parseDiagnosticsReport(raw json.RawMessage) (*DiagnosticsReport, error) {
	var report DiagnosticsReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("publishDiagnostics params: %w", err)
	}
	return &report, nil
}

// DiagnosticRegistry keeps the latest published diagnostics per document.
// Publications replace wholesale; an empty list clears earlier findings.
type DiagnosticRegistry struct {
	mu     sync.Mutex
	latest map[protocol.DocumentUri]DiagnosticsReport
}

func NewDiagnosticRegistry() *DiagnosticRegistry {
	return &DiagnosticRegistry{
		latest: make(map[protocol.DocumentUri]DiagnosticsReport),
	}
}

func (r *DiagnosticRegistry) Update(report DiagnosticsReport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A report for an older document version never replaces a newer one.
	if prev, ok := r.latest[report.Uri]; ok && prev.Version != nil && report.Version != nil && *report.Version < *prev.Version {
		return
	}
	r.latest[report.Uri] = report
}

func (r *DiagnosticRegistry) Latest(uri protocol.DocumentUri) (DiagnosticsReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	report, ok := r.latest[uri]
	return report, ok
}

func (r *DiagnosticRegistry) Forget(uri protocol.DocumentUri) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.latest, uri)
}
