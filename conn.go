package lsptypes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"

	slogctx "github.com/veqryn/slog-context"
)

// NotificationHandler is a persistent handler for server notifications.
// Handlers run one at a time on a dispatch goroutine, in the order the
// messages arrived on the wire. A handler that issues Calls must do so on
// its own goroutine or it will stall dispatch.
type NotificationHandler func(method string, params json.RawMessage)

// RequestHandler answers a server-initiated request. The returned value is
// marshalled as the result; a *ResponseError is sent back as an error
// response, any other error becomes an internal error response.
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// Conn speaks framed JSON-RPC over a byte stream and correlates responses
// to pending calls. It provides the three primitives everything else is
// built on: Call, Notify and Listen. A Conn has exactly one reader
// goroutine; any number of goroutines may call into it concurrently.
//
// Closing the write side of the stream is the owner's job (see Process);
// the reader goroutine stops when the read side reaches EOF or a fatal
// framing error.
type Conn struct {
	w      io.Writer
	reader *Reader

	writeMu sync.Mutex
	nextID  atomic.Int64
	calls   atomic.Int64

	mu          sync.Mutex
	pending     map[int64]chan *Message
	waiters     map[string][]*listenWaiter
	handlers    map[string]NotificationHandler
	reqHandlers map[string]RequestHandler
	failErr     error

	notifyQueue chan queuedNotification

	done     chan struct{}
	failOnce sync.Once
}

type listenWaiter struct {
	pred func(json.RawMessage) bool
	ch   chan json.RawMessage
}

type queuedNotification struct {
	handler NotificationHandler
	method  string
	params  json.RawMessage
}

// NewConn creates a Conn over the given streams. Call Start to begin
// dispatching incoming messages.
func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{
		w:           w,
		reader:      NewReader(r),
		pending:     make(map[int64]chan *Message),
		waiters:     make(map[string][]*listenWaiter),
		handlers:    make(map[string]NotificationHandler),
		reqHandlers: make(map[string]RequestHandler),
		notifyQueue: make(chan queuedNotification, 64),
		done:        make(chan struct{}),
	}
}

// Start launches the reader and notification dispatch goroutines. ctx is
// used for logging and for server-initiated request handlers.
func (c *Conn) Start(ctx context.Context) {
	go c.readLoop(ctx)
	go c.notifyLoop()
}

// Call sends a request and blocks until the response arrives, the context
// expires or the connection dies. Concurrent calls are allowed; responses
// may resolve out of send order, matched purely by id. Ids increase
// monotonically and are never reused for the lifetime of the Conn.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	if err := c.Err(); err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}

	id := c.nextID.Add(1)
	c.calls.Add(1)
	ch := make(chan *Message, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(&request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		c.removePending(id)
		return fmt.Errorf("call %s: %w", method, c.writeError(err))
	}

	select {
	case <-ctx.Done():
		c.removePending(id)
		return fmt.Errorf("call %s: %w", method, deadlineError(ctx))
	case <-c.done:
		// A response racing connection death may already be buffered.
		select {
		case resp := <-ch:
			return finishCall(method, resp, result)
		default:
		}
		c.removePending(id)
		return fmt.Errorf("call %s: %w", method, c.Err())
	case resp := <-ch:
		return finishCall(method, resp, result)
	}
}

func finishCall(method string, resp *Message, result any) error {
	if resp.Error != nil {
		return fmt.Errorf("call %s: %w", method, resp.Error)
	}
	if result != nil && len(resp.Result) > 0 && string(resp.Result) != "null" {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("call %s: unmarshal result: %w", method, err)
		}
	}
	return nil
}

// Notify sends a notification; no response is tracked.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	if err := c.Err(); err != nil {
		return fmt.Errorf("notify %s: %w", method, err)
	}
	if err := c.write(&notification{JSONRPC: "2.0", Method: method, Params: params}); err != nil {
		return fmt.Errorf("notify %s: %w", method, c.writeError(err))
	}
	return nil
}

// Listen blocks until one notification for method arrives that satisfies
// pred (a nil pred matches everything). Concurrent waiters for the same
// method are served in first-registered order, each receiving a distinct
// message.
func (c *Conn) Listen(ctx context.Context, method string, pred func(params json.RawMessage) bool) (json.RawMessage, error) {
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("listen %s: %w", method, err)
	}

	w := &listenWaiter{pred: pred, ch: make(chan json.RawMessage, 1)}
	c.mu.Lock()
	c.waiters[method] = append(c.waiters[method], w)
	c.mu.Unlock()

	select {
	case params := <-w.ch:
		return params, nil
	case <-ctx.Done():
		if params, ok := c.removeWaiter(method, w); ok {
			return params, nil
		}
		return nil, fmt.Errorf("listen %s: %w", method, deadlineError(ctx))
	case <-c.done:
		c.removeWaiter(method, w)
		return nil, fmt.Errorf("listen %s: %w", method, c.Err())
	}
}

// OnNotification registers a persistent handler for a notification method.
// Handlers observe every matching message, independently of Listen waiters.
func (c *Conn) OnNotification(method string, handler NotificationHandler) {
	c.mu.Lock()
	c.handlers[method] = handler
	c.mu.Unlock()
}

// OnRequest registers a handler for server-initiated requests. Requests
// with no handler are dropped with a log line.
func (c *Conn) OnRequest(method string, handler RequestHandler) {
	c.mu.Lock()
	c.reqHandlers[method] = handler
	c.mu.Unlock()
}

// CallCount returns the number of requests issued over the connection's
// lifetime. Pools use it to enforce recycle thresholds.
func (c *Conn) CallCount() int64 { return c.calls.Load() }

// Err returns the fatal transport failure, or nil while the connection is
// usable.
func (c *Conn) Err() error {
	select {
	case <-c.done:
	default:
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failErr
}

// Done is closed when the connection becomes unusable.
func (c *Conn) Done() <-chan struct{} { return c.done }

// fail marks the connection dead and unblocks every pending call and
// waiter with err. The first failure wins; later calls are no-ops.
func (c *Conn) fail(err error) {
	c.failOnce.Do(func() {
		c.mu.Lock()
		c.failErr = err
		c.pending = make(map[int64]chan *Message)
		c.waiters = make(map[string][]*listenWaiter)
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Conn) write(msg any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteMessage(c.w, msg)
}

// writeError keeps the error taxonomy intact on the write path: when the
// connection has already failed, or the pipe itself is gone because the
// process died, the caller sees ErrProcessExited rather than a raw stream
// error.
func (c *Conn) writeError(err error) error {
	if ferr := c.Err(); ferr != nil {
		return ferr
	}
	if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, fs.ErrClosed) || errors.Is(err, syscall.EPIPE) {
		return ErrProcessExited
	}
	return err
}

func (c *Conn) removePending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// removeWaiter unregisters w. If a message was delivered concurrently it is
// returned instead, so a raced deadline still hands the caller its message
// rather than dropping it.
func (c *Conn) removeWaiter(method string, w *listenWaiter) (json.RawMessage, bool) {
	c.mu.Lock()
	ws := c.waiters[method]
	for i, x := range ws {
		if x == w {
			c.waiters[method] = append(ws[:i:i], ws[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	select {
	case params := <-w.ch:
		return params, true
	default:
		return nil, false
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.notifyQueue)
	for {
		msg, err := c.reader.Next()
		if err != nil {
			var fe *FramingError
			if errors.As(err, &fe) && !fe.Fatal() {
				slog.WarnContext(ctx, "dropping malformed message", "error", err)
				continue
			}
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, io.ErrUnexpectedEOF):
				c.fail(ErrProcessExited)
			default:
				c.fail(err)
			}
			return
		}

		switch {
		case msg.IsResponse():
			c.resolve(ctx, msg)
		case msg.IsCall():
			c.handleCall(ctx, msg)
		case msg.IsNotification():
			c.deliver(ctx, msg)
		default:
			slog.DebugContext(ctx, "dropping unclassifiable message")
		}
	}
}

func (c *Conn) resolve(ctx context.Context, msg *Message) {
	c.mu.Lock()
	ch, ok := c.pending[*msg.ID]
	if ok {
		delete(c.pending, *msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		// Late response after a timeout, or an id we never issued.
		slog.DebugContext(ctx, "discarding unmatched response", "id", *msg.ID)
		return
	}
	ch <- msg
}

func (c *Conn) handleCall(ctx context.Context, msg *Message) {
	c.mu.Lock()
	handler, ok := c.reqHandlers[msg.Method]
	c.mu.Unlock()

	if !ok {
		slog.DebugContext(ctx, "dropping unhandled server request", "method", msg.Method, "id", *msg.ID)
		return
	}

	go func() {
		ctx := slogctx.Append(ctx, "method", msg.Method)
		result, err := handler(ctx, msg.Params)
		resp := &response{JSONRPC: "2.0", ID: *msg.ID, Result: result}
		if err != nil {
			var re *ResponseError
			if !errors.As(err, &re) {
				re = &ResponseError{Code: -32603, Message: err.Error()}
			}
			resp.Result = nil
			resp.Error = re
		}
		if err := c.write(resp); err != nil {
			slog.ErrorContext(ctx, "failed to respond to server request", "error", err)
		}
	}()
}

func (c *Conn) deliver(ctx context.Context, msg *Message) {
	c.mu.Lock()
	handler := c.handlers[msg.Method]
	claimed := false
	ws := c.waiters[msg.Method]
	for i, w := range ws {
		if w.pred == nil || w.pred(msg.Params) {
			c.waiters[msg.Method] = append(ws[:i:i], ws[i+1:]...)
			// Buffered send under mu: removeWaiter's drain runs after
			// delisting under the same lock, so it can never miss a
			// delivered message.
			w.ch <- msg.Params
			claimed = true
			break
		}
	}
	c.mu.Unlock()

	if handler != nil {
		c.notifyQueue <- queuedNotification{handler: handler, method: msg.Method, params: msg.Params}
	}
	if !claimed && handler == nil {
		slog.DebugContext(ctx, "dropping notification with no listener", "method", msg.Method)
	}
}

// notifyLoop runs persistent notification handlers sequentially so they
// observe messages in wire order.
func (c *Conn) notifyLoop() {
	for q := range c.notifyQueue {
		q.handler(q.method, q.params)
	}
}

// deadlineError maps a context failure to the error taxonomy: deadline
// expiry becomes ErrTimeout, explicit cancellation stays context.Canceled.
func deadlineError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
