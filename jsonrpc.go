package lsptypes

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Message is a decoded JSON-RPC 2.0 envelope: a request, a response or a
// notification, distinguished by which fields are present.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// IsResponse reports whether the message answers a client request.
func (m *Message) IsResponse() bool {
	return m.ID != nil && (m.Result != nil || m.Error != nil)
}

// IsCall reports whether the message is a server-initiated request that
// expects a response.
func (m *Message) IsCall() bool {
	return m.ID != nil && m.Method != "" && !m.IsResponse()
}

// IsNotification reports whether the message expects no response.
func (m *Message) IsNotification() bool {
	return m.ID == nil && m.Method != ""
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Result  any            `json:"result"`
	Error   *ResponseError `json:"error,omitempty"`
}

// WriteMessage frames msg as Content-Length delimited JSON and writes it in
// a single Write call, so concurrent writers never interleave bytes of two
// messages. The length is the encoded byte count, not the rune count.
func WriteMessage(w io.Writer, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	buf := make([]byte, 0, len(body)+32)
	buf = fmt.Appendf(buf, "Content-Length: %d\r\n\r\n", len(body))
	buf = append(buf, body...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Reader decodes a stream of Content-Length framed JSON-RPC messages.
type Reader struct {
	r *bufio.Reader
}

// NewReader returns a Reader decoding from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next decodes the next message. It returns io.EOF when the stream ends
// cleanly, a *FramingError on a malformed header (fatal, alignment lost) or
// a body that is not valid JSON (non-fatal, the stream is still aligned and
// Next may be called again).
func (r *Reader) Next() (*Message, error) {
	contentLength := -1

	for {
		line, err := r.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" && contentLength == -1 {
				return nil, io.EOF
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &FramingError{msg: fmt.Sprintf("malformed header line %q", line), fatal: true}
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, &FramingError{msg: fmt.Sprintf("bad Content-Length %q", strings.TrimSpace(value)), fatal: true, err: err}
			}
			contentLength = n
		}
		// Other headers (Content-Type) are ignored.
	}

	if contentLength < 0 {
		return nil, &FramingError{msg: "missing Content-Length header", fatal: true}
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return nil, &FramingError{msg: "short read of message body", fatal: true, err: err}
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		// The body was fully consumed, so the stream is still aligned.
		return nil, &FramingError{msg: "invalid JSON body", err: err}
	}
	return &msg, nil
}
