package lsptypes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"
	"github.com/myleshyson/lsprotocol-go/protocol"
)

// SessionOptions configure session creation.
type SessionOptions struct {
	// BasePath is the workspace directory the server is rooted at.
	// Defaults to the current directory.
	BasePath string

	// InitialCode is the content the session's document opens with.
	InitialCode string

	// Pool shares server processes across sessions. Nil starts a dedicated
	// process that is shut down on Close.
	Pool *Pool

	// RequestTimeout bounds each feature request. Zero relies on the
	// caller's context alone.
	RequestTimeout time.Duration

	// ShutdownGrace bounds graceful shutdown of a dedicated process.
	ShutdownGrace time.Duration

	// Middlewares wrap the dispatcher of processes this session starts.
	Middlewares []Middleware
}

// Session edits one scratch document against a language server and asks
// questions about it. Each session owns one document; the backing process
// may be shared through a pool and is returned there on Close.
type Session struct {
	backend Backend
	opts    SessionOptions

	proc     *Process
	uri      protocol.DocumentUri
	path     string
	version  atomic.Int32
	registry *DiagnosticRegistry

	failed    atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewSession launches or borrows a server process for backend, performs the
// initialize handshake if the process is fresh, and opens the session
// document with InitialCode.
func NewSession(ctx context.Context, backend Backend, opts SessionOptions) (*Session, error) {
	basePath := opts.BasePath
	if basePath == "" {
		basePath = "."
	}
	basePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = defaultShutdownGrace
	}

	if err := backend.WriteConfig(basePath); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	info := backend.LaunchInfo(basePath)
	start := func(ctx context.Context) (*Process, error) {
		return startInitialized(ctx, backend, basePath, info, opts.Middlewares)
	}

	var proc *Process
	if opts.Pool != nil {
		proc, err = opts.Pool.Acquire(ctx, info, start)
	} else {
		proc, err = start(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s := &Session{
		backend:  backend,
		opts:     opts,
		proc:     proc,
		registry: NewDiagnosticRegistry(),
	}
	s.version.Store(1)

	name := fmt.Sprintf("session_%s.py", uuid.NewString()[:8])
	s.path = filepath.Join(basePath, name)
	s.uri = protocol.DocumentUri(FilePathToURI(s.path))

	proc.OnNotification("textDocument/publishDiagnostics", func(method string, params json.RawMessage) {
		if report, err := parseDiagnosticsReport(params); err == nil {
			s.registry.Update(*report)
		}
	})

	if err := s.prepare(ctx); err != nil {
		s.release(ctx, false)
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// prepare resets a possibly recycled process and opens the session
// document.
func (s *Session) prepare(ctx context.Context) error {
	// A recycled process may still hold documents of its previous session.
	if err := s.proc.CloseOpenDocuments(ctx); err != nil {
		return err
	}

	traits := s.backend.Traits()
	if traits.SupportsConfigurationChange {
		if settings := s.backend.Settings(); settings != nil {
			if err := s.proc.Notify.DidChangeConfiguration(ctx, settings); err != nil {
				return err
			}
		}
	}

	if err := s.writeDocument(s.opts.InitialCode); err != nil {
		return err
	}
	return s.proc.Notify.DidOpenTextDocument(ctx, s.uri, s.backend.LanguageID(), s.version.Load(), s.opts.InitialCode)
}

// startInitialized is the pool StartFunc: launch, initialize, initialized.
// Pooled processes keep this handshake across sessions.
func startInitialized(ctx context.Context, backend Backend, basePath string, info LaunchInfo, mws []Middleware) (*Process, error) {
	proc, err := StartProcess(ctx, info, mws...)
	if err != nil {
		return nil, err
	}

	caps := defaultClientCapabilities()
	if err := mergo.Merge(&caps, backend.ClientCapabilities(), mergo.WithOverride); err != nil {
		proc.Kill()
		return nil, fmt.Errorf("merge capabilities: %w", err)
	}

	params := map[string]any{
		"processId":    nil,
		"rootUri":      FilePathToURI(basePath),
		"rootPath":     basePath,
		"capabilities": caps,
	}
	if initOpts := backend.InitializationOptions(); initOpts != nil {
		params["initializationOptions"] = initOpts
	}

	if _, err := proc.Send.Initialize(ctx, params); err != nil {
		proc.Kill()
		return nil, err
	}
	if err := proc.Notify.Initialized(ctx); err != nil {
		proc.Kill()
		return nil, err
	}
	return proc, nil
}

func defaultClientCapabilities() map[string]any {
	return map[string]any{
		"textDocument": map[string]any{
			"publishDiagnostics": map[string]any{
				"versionSupport": true,
			},
			"synchronization": map[string]any{
				"didSave": true,
			},
		},
	}
}

// UpdateCode replaces the document content wholesale and returns the new
// document version.
func (s *Session) UpdateCode(ctx context.Context, code string) (int32, error) {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	if err := s.require(""); err != nil {
		return 0, err
	}
	version := s.version.Add(1)
	if err := s.writeDocument(code); err != nil {
		return 0, err
	}
	if err := s.proc.Notify.DidChangeTextDocument(ctx, s.uri, version, code); err != nil {
		return 0, s.observe(err)
	}
	return version, nil
}

// Diagnostics returns the server's findings for the current document
// version, waiting for a fresh publication when the latest known one is
// stale.
func (s *Session) Diagnostics(ctx context.Context) ([]protocol.Diagnostic, error) {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	if err := s.require(""); err != nil {
		return nil, err
	}
	want := s.version.Load()
	fresh := func(r DiagnosticsReport) bool {
		if r.Uri != s.uri {
			return false
		}
		if !s.backend.Traits().EchoesDocumentVersion || r.Version == nil {
			return true
		}
		return *r.Version >= want
	}

	// Alternate between the cache and a short listen. A publication that
	// lands between the cache check and the listen registration is caught
	// on the next pass instead of hanging the wait.
	for {
		if report, ok := s.registry.Latest(s.uri); ok && fresh(report) {
			return report.Diagnostics, nil
		}

		waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		report, err := s.proc.Notify.OnPublishDiagnostics(waitCtx, fresh)
		cancel()
		if err == nil {
			return report.Diagnostics, nil
		}
		if !errors.Is(err, ErrTimeout) || ctx.Err() != nil {
			return nil, s.observe(err)
		}
	}
}

// Hover returns hover information at a position, or nil when the server
// has nothing to show.
func (s *Session) Hover(ctx context.Context, pos protocol.Position) (*protocol.Hover, error) {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	if err := s.require("textDocument/hover"); err != nil {
		return nil, err
	}
	res, err := s.proc.Send.Hover(ctx, s.uri, pos)
	return res, s.observe(err)
}

// Completion returns completion items at a position.
func (s *Session) Completion(ctx context.Context, pos protocol.Position) (*protocol.CompletionList, error) {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	if err := s.require("textDocument/completion"); err != nil {
		return nil, err
	}
	res, err := s.proc.Send.Completion(ctx, s.uri, pos)
	return res, s.observe(err)
}

// ResolveCompletion fills in lazily-computed fields of a completion item.
func (s *Session) ResolveCompletion(ctx context.Context, item protocol.CompletionItem) (*protocol.CompletionItem, error) {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	if err := s.require("completionItem/resolve"); err != nil {
		return nil, err
	}
	res, err := s.proc.Send.ResolveCompletionItem(ctx, item)
	return res, s.observe(err)
}

// SignatureHelp returns signature information at a position.
func (s *Session) SignatureHelp(ctx context.Context, pos protocol.Position) (*protocol.SignatureHelp, error) {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	if err := s.require("textDocument/signatureHelp"); err != nil {
		return nil, err
	}
	res, err := s.proc.Send.SignatureHelp(ctx, s.uri, pos)
	return res, s.observe(err)
}

// RenameEdits computes the workspace edit renaming the symbol at a
// position.
func (s *Session) RenameEdits(ctx context.Context, pos protocol.Position, newName string) (*protocol.WorkspaceEdit, error) {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	if err := s.require("textDocument/rename"); err != nil {
		return nil, err
	}
	res, err := s.proc.Send.Rename(ctx, s.uri, pos, newName)
	return res, s.observe(err)
}

// SemanticTokens returns the semantic tokens of the whole document.
func (s *Session) SemanticTokens(ctx context.Context) (*protocol.SemanticTokens, error) {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	if err := s.require("textDocument/semanticTokens/full"); err != nil {
		return nil, err
	}
	res, err := s.proc.Send.SemanticTokensFull(ctx, s.uri)
	return res, s.observe(err)
}

// Definition returns the definition locations of the symbol at a position.
func (s *Session) Definition(ctx context.Context, pos protocol.Position) ([]protocol.Location, error) {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	if err := s.require("textDocument/definition"); err != nil {
		return nil, err
	}
	res, err := s.proc.Send.Definition(ctx, s.uri, pos)
	return res, s.observe(err)
}

// References returns all references to the symbol at a position.
func (s *Session) References(ctx context.Context, pos protocol.Position, includeDeclaration bool) ([]protocol.Location, error) {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	if err := s.require("textDocument/references"); err != nil {
		return nil, err
	}
	res, err := s.proc.Send.References(ctx, s.uri, pos, includeDeclaration)
	return res, s.observe(err)
}

// Version returns the current document version.
func (s *Session) Version() int32 { return s.version.Load() }

// Process exposes the backing process for advanced use; requests issued
// through it bypass the session's timeout and failure tracking.
func (s *Session) Process() *Process { return s.proc }

// Close returns the process to the pool or shuts it down. Safe to call
// more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		healthy := !s.failed.Load() && s.proc.State() != StateExited
		if healthy {
			if err := s.proc.Notify.DidCloseTextDocument(ctx, s.uri); err != nil {
				healthy = false
			}
		}
		s.removeDocument(ctx)
		s.closeErr = s.release(ctx, healthy)
	})
	return s.closeErr
}

func (s *Session) release(ctx context.Context, healthy bool) error {
	if s.opts.Pool != nil {
		s.opts.Pool.Release(s.proc, healthy)
		return nil
	}
	return s.proc.Shutdown(ctx, s.opts.ShutdownGrace)
}

// require rejects operations on a closed session and, when method is
// non-empty, on servers that do not declare the needed capability.
func (s *Session) require(method string) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if method != "" && !s.proc.Supports(method) {
		return fmt.Errorf("%s: %w", method, ErrNotSupported)
	}
	return nil
}

// observe marks the session failed when its process died, so Close retires
// the process instead of recycling it.
func (s *Session) observe(err error) error {
	if err != nil && errors.Is(err, ErrProcessExited) {
		s.failed.Store(true)
	}
	return err
}

func (s *Session) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.RequestTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.RequestTimeout)
	}
	return ctx, func() {}
}

// writeDocument mirrors content to disk for backends that analyze files
// rather than in-memory buffers.
func (s *Session) writeDocument(code string) error {
	if !s.backend.Traits().RequiresDiskFiles {
		return nil
	}
	if err := os.WriteFile(s.path, []byte(code), 0o644); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

func (s *Session) removeDocument(ctx context.Context) {
	if !s.backend.Traits().RequiresDiskFiles {
		return
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		slog.DebugContext(ctx, "failed to remove session document", "path", s.path, "error", err)
	}
}
