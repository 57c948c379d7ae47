package lsptypes

import (
	"context"
	"encoding/json"

	"github.com/myleshyson/lsprotocol-go/protocol"
)

// Notifications is the typed notification surface of a Process. Outgoing
// notifications are fire-and-forget; the returned error only reports a
// failure to hand the message to the transport.
type Notifications struct {
	p *Process
}

// Initialized tells the server the client is ready after initialize.
func (n *Notifications) Initialized(ctx context.Context) error {
	return n.p.Notification(ctx, "initialized", map[string]any{})
}

// Exit asks the server process to terminate. Per protocol the server exits
// without replying, so the process monitor observes the result.
func (n *Notifications) Exit(ctx context.Context) error {
	return n.p.Notification(ctx, "exit", nil)
}

// DidOpenTextDocument announces a document and its full initial content.
// The document is tracked on the process until closed.
func (n *Notifications) DidOpenTextDocument(ctx context.Context, uri protocol.DocumentUri, languageID string, version int32, text string) error {
	params := map[string]any{
		"textDocument": map[string]any{
			"uri":        uri,
			"languageId": languageID,
			"version":    version,
			"text":       text,
		},
	}
	if err := n.p.Notification(ctx, "textDocument/didOpen", params); err != nil {
		return err
	}
	n.p.trackDocumentOpen(uri)
	return nil
}

// DidChangeTextDocument replaces a document's content wholesale. Only full
// sync is supported; incremental edits are out of scope.
func (n *Notifications) DidChangeTextDocument(ctx context.Context, uri protocol.DocumentUri, version int32, text string) error {
	params := map[string]any{
		"textDocument": map[string]any{
			"uri":     uri,
			"version": version,
		},
		"contentChanges": []map[string]any{
			{"text": text},
		},
	}
	return n.p.Notification(ctx, "textDocument/didChange", params)
}

// DidCloseTextDocument closes a tracked document.
func (n *Notifications) DidCloseTextDocument(ctx context.Context, uri protocol.DocumentUri) error {
	params := map[string]any{
		"textDocument": map[string]any{"uri": uri},
	}
	if err := n.p.Notification(ctx, "textDocument/didClose", params); err != nil {
		return err
	}
	n.p.trackDocumentClose(uri)
	return nil
}

// DidSaveTextDocument reports a document save, including the saved text.
func (n *Notifications) DidSaveTextDocument(ctx context.Context, uri protocol.DocumentUri, text string) error {
	params := map[string]any{
		"textDocument": map[string]any{"uri": uri},
		"text":         text,
	}
	return n.p.Notification(ctx, "textDocument/didSave", params)
}

// DidChangeConfiguration pushes new settings to the server.
func (n *Notifications) DidChangeConfiguration(ctx context.Context, settings any) error {
	params := map[string]any{"settings": settings}
	return n.p.Notification(ctx, "workspace/didChangeConfiguration", params)
}

// OnPublishDiagnostics blocks until the server publishes diagnostics
// matching pred, or ctx expires. Registration order decides which waiter a
// matching publication resolves.
func (n *Notifications) OnPublishDiagnostics(ctx context.Context, pred func(DiagnosticsReport) bool) (*DiagnosticsReport, error) {
	params, err := n.p.Listen(ctx, "textDocument/publishDiagnostics", func(raw json.RawMessage) bool {
		report, err := parseDiagnosticsReport(raw)
		if err != nil {
			return false
		}
		return pred(*report)
	})
	if err != nil {
		return nil, err
	}
	return parseDiagnosticsReport(params)
}
