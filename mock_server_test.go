package lsptypes

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
)

// TestMockLSPServer is not a test: it is the helper process the process,
// pool and session tests launch as their language server. It speaks the
// base protocol on stdio and can be told to hang, error or answer garbage
// for one method to exercise failure handling.
func TestMockLSPServer(t *testing.T) {
	if os.Getenv("LSPTYPES_MOCK_SERVER") != "1" {
		t.Skip("helper process; set LSPTYPES_MOCK_SERVER=1 to run")
	}

	srv := &mockServer{
		hangOn:      os.Getenv("LSPTYPES_MOCK_HANG_ON"),
		errorOn:     os.Getenv("LSPTYPES_MOCK_ERROR_ON"),
		malformedOn: os.Getenv("LSPTYPES_MOCK_MALFORMED_ON"),
	}
	srv.run()
	// Exit before the test framework writes its verdict to stdout, which
	// would corrupt the protocol stream.
	os.Exit(0)
}

func mockLaunchInfo(t *testing.T, env map[string]string) LaunchInfo {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("locate test binary: %v", err)
	}

	full := map[string]string{"LSPTYPES_MOCK_SERVER": "1"}
	for k, v := range env {
		full[k] = v
	}
	return LaunchInfo{
		Command: exe,
		Args:    []string{"-test.run=TestMockLSPServer$", "-test.count=1"},
		Env:     full,
	}
}

type mockServer struct {
	hangOn      string
	errorOn     string
	malformedOn string
}

type mockIncoming struct {
	TextDocument struct {
		Uri     string `json:"uri"`
		Version int32  `json:"version"`
		Text    string `json:"text"`
	} `json:"textDocument"`
	ContentChanges []struct {
		Text string `json:"text"`
	} `json:"contentChanges"`
}

func (s *mockServer) run() {
	r := NewReader(os.Stdin)
	for {
		msg, err := r.Next()
		if err != nil {
			return
		}
		s.handle(msg)
	}
}

func (s *mockServer) handle(msg *Message) {
	if msg.Method == s.hangOn {
		return
	}
	if msg.ID != nil && msg.Method == s.malformedOn {
		os.Stdout.WriteString("Content-Length: 16\r\n\r\nnot valid json {")
		return
	}
	if msg.ID != nil && msg.Method == s.errorOn {
		s.write(response{JSONRPC: "2.0", ID: *msg.ID, Error: &ResponseError{Code: -32600, Message: "mock error"}})
		return
	}

	switch msg.Method {
	case "initialize":
		s.write(response{JSONRPC: "2.0", ID: *msg.ID, Result: map[string]any{
			"capabilities": map[string]any{
				"textDocumentSync": 1,
				"hoverProvider":    true,
				"completionProvider": map[string]any{
					"resolveProvider": true,
				},
				"signatureHelpProvider": map[string]any{},
				"renameProvider":        true,
				"definitionProvider":    true,
				"referencesProvider":    true,
			},
			"serverInfo": map[string]any{"name": "mock-lsp-server", "version": "1.0.0"},
		}})
	case "exit":
		os.Exit(0)
	case "shutdown":
		s.write(response{JSONRPC: "2.0", ID: *msg.ID, Result: nil})
	case "textDocument/didOpen", "textDocument/didChange":
		s.publishDiagnostics(msg)
	case "textDocument/hover":
		s.write(response{JSONRPC: "2.0", ID: *msg.ID, Result: map[string]any{
			"contents": map[string]any{"kind": "markdown", "value": "mock hover"},
		}})
	case "textDocument/completion":
		s.write(response{JSONRPC: "2.0", ID: *msg.ID, Result: map[string]any{
			"isIncomplete": false,
			"items":        []map[string]any{{"label": "mock_item"}},
		}})
	default:
		if msg.ID != nil {
			s.write(response{JSONRPC: "2.0", ID: *msg.ID, Result: nil})
		}
	}
}

// publishDiagnostics reports one error per line containing "err", echoing
// the document version the way version-aware servers do.
func (s *mockServer) publishDiagnostics(msg *Message) {
	var in mockIncoming
	if err := json.Unmarshal(msg.Params, &in); err != nil {
		return
	}
	text := in.TextDocument.Text
	if len(in.ContentChanges) > 0 {
		text = in.ContentChanges[len(in.ContentChanges)-1].Text
	}

	diags := []map[string]any{}
	for i, line := range strings.Split(text, "\n") {
		if strings.Contains(line, "err") {
			diags = append(diags, map[string]any{
				"range": map[string]any{
					"start": map[string]any{"line": i, "character": 0},
					"end":   map[string]any{"line": i, "character": len(line)},
				},
				"severity": 1,
				"message":  "mock problem",
			})
		}
	}

	s.write(notification{JSONRPC: "2.0", Method: "textDocument/publishDiagnostics", Params: map[string]any{
		"uri":         in.TextDocument.Uri,
		"version":     in.TextDocument.Version,
		"diagnostics": diags,
	}})
}

func (s *mockServer) write(msg any) {
	_ = WriteMessage(os.Stdout, msg)
}
