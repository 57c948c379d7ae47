package lsptypes

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/myleshyson/lsprotocol-go/protocol"
)

type mockBackend struct {
	info     LaunchInfo
	traits   Traits
	settings any
}

func newMockBackend(t *testing.T, env map[string]string) *mockBackend {
	t.Helper()
	return &mockBackend{
		info: mockLaunchInfo(t, env),
		traits: Traits{
			SupportsConfigurationChange: true,
			EchoesDocumentVersion:       true,
		},
	}
}

func (b *mockBackend) Name() string                         { return "mock" }
func (b *mockBackend) LanguageID() string                   { return "python" }
func (b *mockBackend) LaunchInfo(baseDir string) LaunchInfo { return b.info }
func (b *mockBackend) InitializationOptions() any           { return nil }
func (b *mockBackend) Settings() any                        { return b.settings }
func (b *mockBackend) WriteConfig(baseDir string) error     { return nil }
func (b *mockBackend) Traits() Traits                       { return b.traits }

func (b *mockBackend) ClientCapabilities() map[string]any {
	return map[string]any{
		"textDocument": map[string]any{
			"publishDiagnostics": map[string]any{"versionSupport": true},
		},
	}
}

func newTestSession(t *testing.T, backend *mockBackend, opts SessionOptions) *Session {
	t.Helper()

	if opts.BasePath == "" {
		opts.BasePath = t.TempDir()
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	session, err := NewSession(context.Background(), backend, opts)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		session.Close(ctx)
	})
	return session
}

func TestSession_CreateAndHover(t *testing.T) {
	session := newTestSession(t, newMockBackend(t, nil), SessionOptions{InitialCode: "x = 1\n"})

	hover, err := session.Hover(context.Background(), protocol.Position{Line: 0, Character: 0})
	if err != nil {
		t.Fatalf("hover: %v", err)
	}
	if hover == nil {
		t.Fatal("hover = nil, want result")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := session.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return session.Process().State() == StateExited },
		"dedicated process was not shut down on close")
}

func TestSession_Diagnostics(t *testing.T) {
	session := newTestSession(t, newMockBackend(t, nil), SessionOptions{InitialCode: "x err = 1\n"})
	ctx := context.Background()

	diags, err := session.Diagnostics(ctx)
	if err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %d, want 1", len(diags))
	}
	if diags[0].Message != "mock problem" {
		t.Errorf("message = %q", diags[0].Message)
	}
}

func TestSession_DiagnosticsSkipStaleVersions(t *testing.T) {
	session := newTestSession(t, newMockBackend(t, nil), SessionOptions{InitialCode: "x err = 1\n"})
	ctx := context.Background()

	// Two quick updates: findings for the intermediate version must never
	// be reported as current.
	if _, err := session.UpdateCode(ctx, "y err = 2\n"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := session.UpdateCode(ctx, "clean = 3\n"); err != nil {
		t.Fatalf("update: %v", err)
	}

	diags, err := session.Diagnostics(ctx)
	if err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	if len(diags) != 0 {
		t.Fatalf("diagnostics = %v, want none for the clean version", diags)
	}

	// Repeated calls answer from the cache without hanging.
	if _, err := session.Diagnostics(ctx); err != nil {
		t.Fatalf("repeated diagnostics: %v", err)
	}
}

func TestSession_UpdateCodeBumpsVersion(t *testing.T) {
	session := newTestSession(t, newMockBackend(t, nil), SessionOptions{})
	ctx := context.Background()

	if got := session.Version(); got != 1 {
		t.Fatalf("version = %d, want 1", got)
	}
	v, err := session.UpdateCode(ctx, "x = 2\n")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if v != 2 || session.Version() != 2 {
		t.Errorf("version = %d, want 2", v)
	}
}

func TestSession_UnsupportedMethod(t *testing.T) {
	// The mock server declares no semanticTokensProvider.
	session := newTestSession(t, newMockBackend(t, nil), SessionOptions{})

	_, err := session.SemanticTokens(context.Background())
	if !errors.Is(err, ErrNotSupported) {
		t.Fatalf("err = %v, want ErrNotSupported", err)
	}
}

func TestSession_CloseIdempotent(t *testing.T) {
	session := newTestSession(t, newMockBackend(t, nil), SessionOptions{})
	ctx := context.Background()

	if err := session.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := session.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if _, err := session.Hover(ctx, protocol.Position{}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("err = %v, want ErrSessionClosed", err)
	}
	if _, err := session.UpdateCode(ctx, "x = 2\n"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("err = %v, want ErrSessionClosed", err)
	}
}

func TestSession_PooledReuse(t *testing.T) {
	pool := NewPool(PoolConfig{MaxSize: 1})
	t.Cleanup(func() { pool.Close(context.Background()) })
	backend := newMockBackend(t, nil)
	backend.settings = map[string]any{"strict": true}
	ctx := context.Background()

	first := newTestSession(t, backend, SessionOptions{Pool: pool})
	proc := first.Process()
	if _, err := first.Hover(ctx, protocol.Position{}); err != nil {
		t.Fatalf("hover: %v", err)
	}
	if err := first.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := newTestSession(t, backend, SessionOptions{Pool: pool})
	if second.Process() != proc {
		t.Error("expected the pooled process to be reused")
	}
	if got := proc.OpenDocuments(); len(got) != 1 {
		t.Errorf("open documents = %v, want only the new session's", got)
	}
	if _, err := second.Hover(ctx, protocol.Position{}); err != nil {
		t.Fatalf("hover on reused process: %v", err)
	}
}

func TestSession_FailedProcessNotRecycled(t *testing.T) {
	pool := NewPool(PoolConfig{MaxSize: 1})
	t.Cleanup(func() { pool.Close(context.Background()) })
	backend := newMockBackend(t, map[string]string{"LSPTYPES_MOCK_HANG_ON": "textDocument/hover"})
	ctx := context.Background()

	session := newTestSession(t, backend, SessionOptions{Pool: pool})
	proc := session.Process()

	errs := make(chan error, 1)
	go func() {
		_, err := session.Hover(ctx, protocol.Position{})
		errs <- err
	}()
	time.Sleep(100 * time.Millisecond)
	proc.Kill()

	if err := <-errs; !errors.Is(err, ErrProcessExited) {
		t.Fatalf("err = %v, want ErrProcessExited", err)
	}
	if err := session.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if s := pool.Stats(); s.Available != 0 {
		t.Errorf("available = %d, a dead process must not be parked", s.Available)
	}
}

func TestSession_DiskMirroring(t *testing.T) {
	backend := newMockBackend(t, nil)
	backend.traits.RequiresDiskFiles = true
	base := t.TempDir()
	ctx := context.Background()

	session := newTestSession(t, backend, SessionOptions{BasePath: base, InitialCode: "x = 1\n"})

	path := strings.TrimPrefix(string(session.uri), "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read mirrored document: %v", err)
	}
	if string(data) != "x = 1\n" {
		t.Errorf("content = %q", data)
	}

	if _, err := session.UpdateCode(ctx, "x = 2\n"); err != nil {
		t.Fatalf("update: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "x = 2\n" {
		t.Errorf("content after update = %q", data)
	}

	if err := session.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("mirrored document should be removed on close, stat err = %v", err)
	}
}
