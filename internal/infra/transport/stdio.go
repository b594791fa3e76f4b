// Package transport implements the two client-facing transport
// adapters of spec §4.F/§9 "Polymorphic transport": stdio (one
// process per client, synchronous request/response over standard
// streams) and SSE (a session table serving many concurrent HTTP
// clients). Both reduce to the same shape: decode a
// protocol.Request, call the dispatch function, encode whatever
// protocol.Response comes back.
package transport

import (
	"bufio"
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/Soflution1/mcp-on-demand/internal/infra/protocol"
)

// Dispatcher is implemented by *router.Router; kept as a function
// type here so the transport package does not need to import router.
type Dispatcher func(ctx context.Context, req *protocol.Request) *protocol.Response

// Stdio serves one client over its own stdin/stdout, matching the
// shape of the teacher's command-transport adapter but inverted: the
// proxy is the server side of this duplex, not the client side.
type Stdio struct {
	in     io.Reader
	out    io.Writer
	logger *zap.Logger
}

// NewStdio constructs a Stdio transport over the given streams.
func NewStdio(in io.Reader, out io.Writer, logger *zap.Logger) *Stdio {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stdio{in: in, out: out, logger: logger.Named("transport.stdio")}
}

// Serve reads newline-delimited JSON-RPC requests from in until EOF
// or ctx is done, dispatching each one and writing back its response.
// A line that fails to parse is skipped, not fatal (spec §7 "Parse").
func (s *Stdio) Serve(ctx context.Context, dispatch Dispatcher) error {
	scanner := protocol.NewLineScanner(s.in)
	writer := bufio.NewWriter(s.out)
	defer writer.Flush()

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Bytes()
		req, err := protocol.ParseRequest(line)
		if err != nil {
			s.logger.Warn("unparseable client request, skipping", zap.Error(err))
			continue
		}
		if req == nil {
			continue // blank line
		}

		resp := dispatch(ctx, req)
		if resp == nil {
			continue // notification: no reply
		}

		var frame []byte
		if resp.Error != nil {
			frame, err = protocol.EncodeError(resp.ID, resp.Error.Code, resp.Error.Message)
		} else {
			frame, err = protocol.EncodeResult(resp.ID, resp.Result)
		}
		if err != nil {
			s.logger.Error("failed to encode response", zap.Error(err))
			continue
		}
		if _, err := writer.Write(frame); err != nil {
			return err
		}
		if err := writer.Flush(); err != nil {
			return err
		}
	}
	return scanner.Err()
}
