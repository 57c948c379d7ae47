package lsptypes

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/myleshyson/lsprotocol-go/protocol"
	slogctx "github.com/veqryn/slog-context"
)

// LaunchInfo describes how to spawn a language server: the process launch
// contract produced by a Backend and consumed verbatim by Process and Pool.
type LaunchInfo struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
}

// Key returns a stable fingerprint used to group pool entries by launch
// configuration.
func (li LaunchInfo) Key() string {
	parts := append([]string{li.Command}, li.Args...)
	parts = append(parts, "dir="+li.Dir)
	env := make([]string, 0, len(li.Env))
	for k, v := range li.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return strings.Join(append(parts, env...), "\x00")
}

// ProcessState is the lifecycle state of a spawned server process.
type ProcessState int32

const (
	StateStarting ProcessState = iota
	StateReady
	StateInUse
	StateIdle
	StateShuttingDown
	StateExited
)

func (s ProcessState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateInUse:
		return "in-use"
	case StateIdle:
		return "idle"
	case StateShuttingDown:
		return "shutting down"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Process owns one spawned language server: its stdio streams, the
// connection correlating responses to callers, and the exit signal. The
// typed surfaces are attached as Send and Notify; the generic primitives
// (Call, Notify, Listen) remain available for methods without wrappers.
type Process struct {
	// Send issues typed requests to the server.
	Send *Requests
	// Notify sends typed notifications to the server.
	Notify *Notifications

	info     LaunchInfo
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	conn     *Conn
	dispatch Dispatcher

	state        atomic.Int32
	shutdownSent atomic.Bool
	exited       chan struct{}

	mu           sync.Mutex
	exitErr      error
	capabilities *protocol.ServerCapabilities
	supported    map[string]struct{}
	openDocs     map[protocol.DocumentUri]struct{}

	closeStreams sync.Once
}

// StartProcess spawns the server described by info and begins reading its
// stdout. The returned Process is Ready but not yet initialized; the LSP
// handshake is the caller's responsibility (see Session).
func StartProcess(ctx context.Context, info LaunchInfo, mws ...Middleware) (*Process, error) {
	cmd := exec.Command(info.Command, info.Args...)
	cmd.Dir = info.Dir
	cmd.Env = os.Environ()
	for k, v := range info.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", info.Command, err)
	}

	p := &Process{
		info:     info,
		cmd:      cmd,
		stdin:    stdin,
		conn:     NewConn(stdout, stdin),
		exited:   make(chan struct{}),
		openDocs: make(map[protocol.DocumentUri]struct{}),
	}
	p.state.Store(int32(StateStarting))

	mws = append([]Middleware{ContextLogMiddleware(info.Command)}, mws...)
	p.dispatch = chainMiddleware(p.conn, mws...)
	p.Send = &Requests{p: p}
	p.Notify = &Notifications{p: p}

	connCtx := slogctx.Append(context.WithoutCancel(ctx), "server", info.Command, "pid", cmd.Process.Pid)
	p.conn.Start(connCtx)
	go p.drainStderr(connCtx, stderr)
	go p.monitor(connCtx)

	slog.InfoContext(ctx, "started lsp server",
		"command", strings.Join(append([]string{info.Command}, info.Args...), " "),
		"pid", cmd.Process.Pid)

	p.state.Store(int32(StateReady))
	return p, nil
}

// monitor waits for process termination, flips the state to Exited and
// drains every pending call and listener so nothing hangs forever.
func (p *Process) monitor(ctx context.Context) {
	err := p.cmd.Wait()

	clean := p.shutdownSent.Load()
	p.state.Store(int32(StateExited))
	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	p.conn.fail(ErrProcessExited)
	p.releaseStreams()
	close(p.exited)

	if clean {
		slog.DebugContext(ctx, "lsp server exited", "error", err)
	} else {
		slog.WarnContext(ctx, "lsp server exited unexpectedly", "error", err)
	}
}

func (p *Process) drainStderr(ctx context.Context, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			slog.DebugContext(ctx, "server stderr", "line", line)
		}
	}
}

func (p *Process) releaseStreams() {
	p.closeStreams.Do(func() {
		p.stdin.Close()
	})
}

// Call issues a generic request. It fails immediately with ErrProcessExited
// once the process is gone.
func (p *Process) Call(ctx context.Context, method string, params, result any) error {
	return p.dispatch.Call(ctx, method, params, result)
}

// Notification sends a generic notification.
func (p *Process) Notification(ctx context.Context, method string, params any) error {
	return p.dispatch.Notify(ctx, method, params)
}

// Listen blocks for the next notification of method satisfying pred.
func (p *Process) Listen(ctx context.Context, method string, pred func(json.RawMessage) bool) (json.RawMessage, error) {
	return p.conn.Listen(ctx, method, pred)
}

// OnNotification registers a persistent notification handler.
func (p *Process) OnNotification(method string, handler NotificationHandler) {
	p.conn.OnNotification(method, handler)
}

// OnRequest registers a handler for server-initiated requests.
func (p *Process) OnRequest(method string, handler RequestHandler) {
	p.conn.OnRequest(method, handler)
}

// State returns the current lifecycle state.
func (p *Process) State() ProcessState {
	return ProcessState(p.state.Load())
}

func (p *Process) setState(s ProcessState) {
	// Exited is terminal.
	if p.State() != StateExited {
		p.state.Store(int32(s))
	}
}

// Info returns the launch configuration the process was spawned with.
func (p *Process) Info() LaunchInfo { return p.info }

// CallCount returns the number of requests issued since the process was
// spawned.
func (p *Process) CallCount() int64 { return p.conn.CallCount() }

// Exited is closed when the process has terminated, cleanly or not.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// ExitError returns the error from waiting on the process, once Exited is
// closed.
func (p *Process) ExitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Err returns ErrProcessExited (or the fatal transport error) once the
// process is unusable.
func (p *Process) Err() error { return p.conn.Err() }

// Shutdown performs the LSP shutdown/exit handshake and waits for the
// process to terminate, bounded by grace. On timeout the process is killed.
// OS resources are released on every path. Safe to call more than once.
func (p *Process) Shutdown(ctx context.Context, grace time.Duration) error {
	if p.State() == StateExited {
		p.releaseStreams()
		return nil
	}
	if p.shutdownSent.Swap(true) {
		return p.waitExit(ctx, grace)
	}

	p.setState(StateShuttingDown)

	reqCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := p.Send.Shutdown(reqCtx); err != nil {
		slog.DebugContext(ctx, "shutdown request failed", "error", err)
	}
	if err := p.Notify.Exit(reqCtx); err != nil {
		slog.DebugContext(ctx, "exit notification failed", "error", err)
	}
	// Closing stdin nudges servers that only exit on EOF.
	p.releaseStreams()

	return p.waitExit(ctx, grace)
}

func (p *Process) waitExit(ctx context.Context, grace time.Duration) error {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
	case <-timer.C:
	}

	slog.WarnContext(ctx, "lsp server did not exit in time, killing", "pid", p.cmd.Process.Pid)
	if err := p.Kill(); err != nil {
		return err
	}
	<-p.exited
	return nil
}

// Kill forcibly terminates the process.
func (p *Process) Kill() error {
	p.shutdownSent.Store(true)
	if p.cmd.Process != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}

// setInitializeResult records the server's declared capabilities after the
// initialize handshake, both typed and as the dot-notation support set.
func (p *Process) setInitializeResult(caps *protocol.ServerCapabilities, supported map[string]struct{}) {
	p.mu.Lock()
	p.capabilities = caps
	p.supported = supported
	p.mu.Unlock()
}

// Capabilities returns the server's declared capabilities, or nil before
// the initialize handshake.
func (p *Process) Capabilities() *protocol.ServerCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capabilities
}

// Supports reports whether the server declares the capability required by
// method. Methods with no capability mapping are assumed supported.
func (p *Process) Supports(method string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.supported == nil {
		return true
	}
	return IsMethodSupported(method, p.supported)
}

// trackDocumentOpen records an open document so a pooled process can be
// reset before reuse.
func (p *Process) trackDocumentOpen(uri protocol.DocumentUri) {
	p.mu.Lock()
	p.openDocs[uri] = struct{}{}
	p.mu.Unlock()
}

func (p *Process) trackDocumentClose(uri protocol.DocumentUri) {
	p.mu.Lock()
	delete(p.openDocs, uri)
	p.mu.Unlock()
}

// OpenDocuments returns the URIs of documents opened and not yet closed on
// this process.
func (p *Process) OpenDocuments() []protocol.DocumentUri {
	p.mu.Lock()
	defer p.mu.Unlock()
	uris := make([]protocol.DocumentUri, 0, len(p.openDocs))
	for uri := range p.openDocs {
		uris = append(uris, uri)
	}
	return uris
}

// CloseOpenDocuments sends didClose for every document still open, leaving
// a recycled process with no leftover state from its previous session.
func (p *Process) CloseOpenDocuments(ctx context.Context) error {
	for _, uri := range p.OpenDocuments() {
		if err := p.Notify.DidCloseTextDocument(ctx, uri); err != nil {
			return err
		}
	}
	return nil
}
