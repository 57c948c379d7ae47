package lsptypes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/myleshyson/lsprotocol-go/protocol"
)

// Requests is the typed request surface of a Process: one method per
// protocol request, each a thin wrapper over the generic Call primitive.
// Methods without a wrapper can always be issued through Process.Call.
type Requests struct {
	p *Process
}

// Initialize performs the initialize request and records the server's
// declared capabilities on the process. The params are a raw capability
// object; Session assembles them from backend declarations.
func (r *Requests) Initialize(ctx context.Context, params map[string]any) (*protocol.InitializeResult, error) {
	var raw json.RawMessage
	if err := r.p.Call(ctx, string(protocol.InitializeMethod), params, &raw); err != nil {
		return nil, err
	}

	var res protocol.InitializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("initialize result: %w", err)
	}

	var kv struct {
		Capabilities map[string]any `json:"capabilities"`
	}
	if err := json.Unmarshal(raw, &kv); err != nil {
		return nil, fmt.Errorf("initialize result: %w", err)
	}
	r.p.setInitializeResult(&res.Capabilities, CollectSupportedCapabilities(kv.Capabilities))

	return &res, nil
}

// Shutdown asks the server to prepare for exit. Process.Shutdown drives the
// full shutdown/exit sequence; this is the bare request.
func (r *Requests) Shutdown(ctx context.Context) error {
	return r.p.Call(ctx, "shutdown", nil, nil)
}

// Hover returns hover information at a position, or nil when the server has
// nothing to show.
func (r *Requests) Hover(ctx context.Context, uri protocol.DocumentUri, pos protocol.Position) (*protocol.Hover, error) {
	var res *protocol.Hover
	if err := r.p.Call(ctx, "textDocument/hover", positionParams(uri, pos), &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Completion returns completion items at a position. Servers may answer
// with either a CompletionList or a bare item array; both are normalized to
// a CompletionList.
func (r *Requests) Completion(ctx context.Context, uri protocol.DocumentUri, pos protocol.Position) (*protocol.CompletionList, error) {
	var raw json.RawMessage
	if err := r.p.Call(ctx, "textDocument/completion", positionParams(uri, pos), &raw); err != nil {
		return nil, err
	}
	return parseCompletionResult(raw)
}

// ResolveCompletionItem fills in lazily-computed fields of a completion
// item.
func (r *Requests) ResolveCompletionItem(ctx context.Context, item protocol.CompletionItem) (*protocol.CompletionItem, error) {
	var res protocol.CompletionItem
	if err := r.p.Call(ctx, "completionItem/resolve", item, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SignatureHelp returns signature information at a position.
func (r *Requests) SignatureHelp(ctx context.Context, uri protocol.DocumentUri, pos protocol.Position) (*protocol.SignatureHelp, error) {
	var res *protocol.SignatureHelp
	if err := r.p.Call(ctx, "textDocument/signatureHelp", positionParams(uri, pos), &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Rename computes the workspace edit renaming the symbol at a position.
func (r *Requests) Rename(ctx context.Context, uri protocol.DocumentUri, pos protocol.Position, newName string) (*protocol.WorkspaceEdit, error) {
	params := positionParams(uri, pos)
	params["newName"] = newName

	var res *protocol.WorkspaceEdit
	if err := r.p.Call(ctx, "textDocument/rename", params, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// SemanticTokensFull returns the semantic tokens of a whole document.
func (r *Requests) SemanticTokensFull(ctx context.Context, uri protocol.DocumentUri) (*protocol.SemanticTokens, error) {
	params := map[string]any{"textDocument": map[string]any{"uri": uri}}

	var res *protocol.SemanticTokens
	if err := r.p.Call(ctx, "textDocument/semanticTokens/full", params, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Definition returns the definition locations of the symbol at a position.
func (r *Requests) Definition(ctx context.Context, uri protocol.DocumentUri, pos protocol.Position) ([]protocol.Location, error) {
	var raw json.RawMessage
	if err := r.p.Call(ctx, "textDocument/definition", positionParams(uri, pos), &raw); err != nil {
		return nil, err
	}
	return parseLocationResult(raw)
}

// References returns all references to the symbol at a position.
func (r *Requests) References(ctx context.Context, uri protocol.DocumentUri, pos protocol.Position, includeDeclaration bool) ([]protocol.Location, error) {
	params := positionParams(uri, pos)
	params["context"] = map[string]any{"includeDeclaration": includeDeclaration}

	var res []protocol.Location
	if err := r.p.Call(ctx, "textDocument/references", params, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func positionParams(uri protocol.DocumentUri, pos protocol.Position) map[string]any {
	return map[string]any{
		"textDocument": map[string]any{"uri": uri},
		"position":     pos,
	}
}

// parseCompletionResult normalizes CompletionItem[] | CompletionList | null.
func parseCompletionResult(raw json.RawMessage) (*protocol.CompletionList, error) {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		return nil, nil
	case raw[0] == '[':
		var items []protocol.CompletionItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("completion result: %w", err)
		}
		return &protocol.CompletionList{Items: items}, nil
	default:
		var list protocol.CompletionList
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("completion result: %w", err)
		}
		return &list, nil
	}
}

// parseLocationResult normalizes Location | Location[] | null.
func parseLocationResult(raw json.RawMessage) ([]protocol.Location, error) {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		return nil, nil
	case raw[0] == '[':
		var locs []protocol.Location
		if err := json.Unmarshal(raw, &locs); err != nil {
			return nil, fmt.Errorf("definition result: %w", err)
		}
		return locs, nil
	default:
		var loc protocol.Location
		if err := json.Unmarshal(raw, &loc); err != nil {
			return nil, fmt.Errorf("definition result: %w", err)
		}
		return []protocol.Location{loc}, nil
	}
}
