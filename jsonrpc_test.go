package lsptypes

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWriteMessage_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  any
		want Message
	}{
		{
			name: "request",
			msg:  request{JSONRPC: "2.0", ID: 1, Method: "initialize", Params: map[string]any{"processId": nil}},
			want: Message{JSONRPC: "2.0", ID: ptr(int64(1)), Method: "initialize", Params: []byte(`{"processId":null}`)},
		},
		{
			name: "notification",
			msg:  notification{JSONRPC: "2.0", Method: "exit"},
			want: Message{JSONRPC: "2.0", Method: "exit"},
		},
		{
			name: "multibyte body",
			msg:  notification{JSONRPC: "2.0", Method: "log", Params: map[string]any{"text": "héllo, wörld"}},
			want: Message{JSONRPC: "2.0", Method: "log", Params: []byte(`{"text":"héllo, wörld"}`)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteMessage(&buf, tt.msg); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			got, err := NewReader(&buf).Next()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(&tt.want, got); diff != "" {
				t.Errorf("message mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriteMessage_ContentLengthIsByteCount(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, notification{JSONRPC: "2.0", Method: "log", Params: map[string]any{"text": "héllo"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	header, body, ok := strings.Cut(buf.String(), "\r\n\r\n")
	if !ok {
		t.Fatalf("no header separator in %q", buf.String())
	}
	want := fmt.Sprintf("Content-Length: %d", len(body))
	if header != want {
		t.Errorf("header = %q, want %q", header, want)
	}
}

func TestReader_SequentialMessages(t *testing.T) {
	var buf bytes.Buffer
	for i := range 3 {
		if err := WriteMessage(&buf, request{JSONRPC: "2.0", ID: int64(i), Method: "ping"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	r := NewReader(&buf)
	for i := range 3 {
		msg, err := r.Next()
		if err != nil {
			t.Fatalf("message %d: unexpected error: %v", i, err)
		}
		if *msg.ID != int64(i) {
			t.Errorf("message %d: id = %d", i, *msg.ID)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestReader_IgnoresExtraHeaders(t *testing.T) {
	body := `{"jsonrpc":"2.0","method":"exit"}`
	framed := fmt.Sprintf("Content-Type: application/vscode-jsonrpc; charset=utf-8\r\ncontent-length: %d\r\n\r\n%s", len(body), body)

	msg, err := NewReader(strings.NewReader(framed)).Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Method != "exit" {
		t.Errorf("method = %q, want exit", msg.Method)
	}
}

func TestReader_Malformed(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantFatal bool
	}{
		{
			name:      "header line without colon",
			data:      "Content-Length 10\r\n\r\n",
			wantFatal: true,
		},
		{
			name:      "negative content length",
			data:      "Content-Length: -5\r\n\r\n",
			wantFatal: true,
		},
		{
			name:      "non-numeric content length",
			data:      "Content-Length: ten\r\n\r\n",
			wantFatal: true,
		},
		{
			name:      "missing content length",
			data:      "Content-Type: application/vscode-jsonrpc\r\n\r\n{}",
			wantFatal: true,
		},
		{
			name:      "body shorter than declared",
			data:      "Content-Length: 100\r\n\r\n{}",
			wantFatal: true,
		},
		{
			name:      "body is not json",
			data:      "Content-Length: 5\r\n\r\nhello",
			wantFatal: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(strings.NewReader(tt.data)).Next()
			var fe *FramingError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want *FramingError", err)
			}
			if fe.Fatal() != tt.wantFatal {
				t.Errorf("Fatal() = %v, want %v", fe.Fatal(), tt.wantFatal)
			}
		})
	}
}

func TestReader_RecoversAfterBadBody(t *testing.T) {
	bad := "Content-Length: 5\r\n\r\nhello"
	var buf bytes.Buffer
	buf.WriteString(bad)
	if err := WriteMessage(&buf, notification{JSONRPC: "2.0", Method: "exit"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := NewReader(&buf)
	_, err := r.Next()
	var fe *FramingError
	if !errors.As(err, &fe) || fe.Fatal() {
		t.Fatalf("err = %v, want non-fatal *FramingError", err)
	}

	msg, err := r.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Method != "exit" {
		t.Errorf("method = %q, want exit", msg.Method)
	}
}

func TestMessage_Classification(t *testing.T) {
	tests := []struct {
		name                         string
		msg                          Message
		isCall, isResponse, isNotify bool
	}{
		{
			name:   "call",
			msg:    Message{ID: ptr(int64(1)), Method: "workspace/configuration"},
			isCall: true,
		},
		{
			name:       "response with result",
			msg:        Message{ID: ptr(int64(1)), Result: []byte(`{}`)},
			isResponse: true,
		},
		{
			name:       "response with error",
			msg:        Message{ID: ptr(int64(1)), Error: &ResponseError{Code: -32601, Message: "nope"}},
			isResponse: true,
		},
		{
			name:     "notification",
			msg:      Message{Method: "exit"},
			isNotify: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.IsCall(); got != tt.isCall {
				t.Errorf("IsCall() = %v, want %v", got, tt.isCall)
			}
			if got := tt.msg.IsResponse(); got != tt.isResponse {
				t.Errorf("IsResponse() = %v, want %v", got, tt.isResponse)
			}
			if got := tt.msg.IsNotification(); got != tt.isNotify {
				t.Errorf("IsNotification() = %v, want %v", got, tt.isNotify)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }
