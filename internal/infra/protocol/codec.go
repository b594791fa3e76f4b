// Package protocol implements the JSON-RPC 2.0 wire codec shared by
// the client-facing transports and the child-process manager (spec
// §4.A): one JSON object per LF-terminated line, tolerant of blank
// and unparseable lines, with a structured-log special case for
// notifications/message frames read from a child's stdout.
package protocol

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
)

const jsonrpcVersion = "2.0"

// RPCError is the {code, message} pair carried by a JSON-RPC error
// response (spec §4.A).
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Request is a decoded client-facing (or child-facing) JSON-RPC
// frame. ID is the raw, unmodified JSON bytes of the "id" member so
// that encoding it back out preserves the caller's exact
// representation (string vs. number) — required for the round-trip
// testable property (spec §8.1). A nil ID means the frame is a
// notification.
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the frame lacks an id.
func (r *Request) IsNotification() bool { return len(r.ID) == 0 }

// Response is a JSON-RPC response: one the router returns to a client,
// or one read back from a child. It carries no method, so it never
// represents a notification.
type Response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

type wireEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// ParseRequest parses one line of client-facing input. It returns
// (nil, nil) for a blank line, and (nil, err) for a line that fails
// to parse; the stdio and SSE transports log such a line and skip it
// without replying. Lines read from a child go through ParseChildLine
// instead.
//
// The initial validity check goes through the MCP SDK's own
// jsonrpc.DecodeMessage so that malformed-but-JSON payloads (e.g. a
// response object mistakenly sent where a request was expected) are
// rejected the same way the reference SDK rejects them, before this
// package's own permissive RawMessage-preserving unmarshal runs.
func ParseRequest(line []byte) (*Request, error) {
	line = trimLine(line)
	if len(line) == 0 {
		return nil, nil
	}

	msg, err := jsonrpc.DecodeMessage(line)
	if err != nil {
		return nil, err
	}
	req, ok := msg.(*jsonrpc.Request)
	if !ok {
		return nil, domain.E(domain.CodeInvalidArgument, "protocol.ParseRequest", "not a request frame")
	}

	var env wireEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, err
	}
	_ = req // validated shape via the SDK decoder above; bytes below are authoritative.

	return &Request{ID: env.ID, Method: env.Method, Params: env.Params}, nil
}

// StructuredLog is a notifications/message frame re-emitted on the
// proxy's diagnostic channel (spec §4.A).
type StructuredLog struct {
	ServerName string
	Level      string
	Data       json.RawMessage
}

// ParseChildLine parses one line read from a child's stdout. It
// returns exactly one of: a non-nil *Response (has an id), a non-nil
// *StructuredLog (a notifications/message frame), or both nil (any
// other notification, or an unparseable/blank line, all of which the
// child manager discards).
func ParseChildLine(serverName string, line []byte) (*Response, *StructuredLog) {
	line = trimLine(line)
	if len(line) == 0 {
		return nil, nil
	}

	var env wireEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, nil
	}

	if len(env.ID) > 0 && !isNullRaw(env.ID) {
		return &Response{ID: env.ID, Result: env.Result, Error: env.Error}, nil
	}

	if env.Method == "notifications/message" {
		var params struct {
			Level string          `json:"level"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(env.Params, &params); err == nil {
			return nil, &StructuredLog{ServerName: serverName, Level: params.Level, Data: params.Data}
		}
	}
	return nil, nil
}

// EncodeRequest serializes a JSON-RPC request frame (used by the
// child manager to write onto a child's stdin).
func EncodeRequest(id json.RawMessage, method string, params any) ([]byte, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	env := wireEnvelope{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: raw}
	return appendNewline(json.Marshal(env))
}

// EncodeNotification serializes a JSON-RPC notification (no id).
func EncodeNotification(method string, params any) ([]byte, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	env := wireEnvelope{JSONRPC: jsonrpcVersion, Method: method, Params: raw}
	return appendNewline(json.Marshal(env))
}

// EncodeResult serializes a successful response for id.
func EncodeResult(id json.RawMessage, result any) ([]byte, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	env := wireEnvelope{JSONRPC: jsonrpcVersion, ID: id, Result: b}
	return appendNewline(json.Marshal(env))
}

// EncodeError serializes an error response for id.
func EncodeError(id json.RawMessage, code int, message string) ([]byte, error) {
	env := wireEnvelope{JSONRPC: jsonrpcVersion, ID: id, Error: &RPCError{Code: code, Message: message}}
	return appendNewline(json.Marshal(env))
}

func appendNewline(b []byte, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func trimLine(line []byte) []byte {
	return []byte(strings.TrimSpace(string(line)))
}

func isNullRaw(raw json.RawMessage) bool {
	return string(raw) == "null"
}

// NewLineScanner returns a bufio.Scanner configured for
// newline-delimited JSON frames with a generous buffer (tool schemas
// can be large).
func NewLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)
	return scanner
}
