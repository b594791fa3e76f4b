// Package child implements the child-process manager (spec §4.D):
// lifecycle, pooling, handshake, request/response correlation, health,
// restart, and idle reaping of upstream MCP servers communicating over
// newline-delimited JSON-RPC on stdio. Grounded directly on
// original_source/child.rs, translated from tokio tasks/mutexes into
// goroutines, channels, and sync primitives.
package child

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
	"github.com/Soflution1/mcp-on-demand/internal/infra/protocol"
	"github.com/Soflution1/mcp-on-demand/internal/telemetry"
)

// instance is one running child process (ChildProcess in spec §3).
// The request/response correlation pattern here trades the original's
// "lock the stdout reader for the duration of one call" design for a
// single always-running reader goroutine plus a pending-request map:
// both designs guarantee at most one in-flight request per instance
// and strict FIFO within that instance, but the goroutine+map form
// avoids two readers ever touching the same scanner when a call times
// out without killing the child (spec §5 "Cancellation").
type instance struct {
	serverName string
	index      int

	cmd   *exec.Cmd
	stdin io.WriteCloser

	callMu sync.Mutex // held for one full request/response round trip; enforces at-most-one-in-flight (spec §4.D.2)

	nextID atomic.Uint64

	lastUsedNano atomic.Int64

	pendingMu sync.Mutex
	pending   map[string]chan *protocol.Response

	done chan struct{}

	tools           []domain.ToolDef
	protocolVersion string

	logger *zap.Logger
}

func newInstance(serverName string, index int, logger *zap.Logger) *instance {
	return &instance{
		serverName: serverName,
		index:      index,
		pending:    make(map[string]chan *protocol.Response),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (in *instance) touch() {
	in.lastUsedNano.Store(time.Now().UnixNano())
}

func (in *instance) lastUsed() time.Time {
	return time.Unix(0, in.lastUsedNano.Load())
}

func (in *instance) readLoop(stdout io.Reader) {
	scanner := protocol.NewLineScanner(stdout)
	for scanner.Scan() {
		line := scanner.Bytes()
		resp, logLine := protocol.ParseChildLine(in.serverName, line)
		if logLine != nil {
			in.logger.Info("child structured log",
				telemetry.ServerNameField(in.serverName),
				zap.String("level", logLine.Level),
				zap.ByteString("data", logLine.Data))
			continue
		}
		if resp == nil {
			continue // blank, unparseable, or uninteresting notification: skip
		}

		in.pendingMu.Lock()
		ch, ok := in.pending[string(resp.ID)]
		if ok {
			delete(in.pending, string(resp.ID))
		}
		in.pendingMu.Unlock()

		if ok {
			ch <- resp
		}
		// unmatched id: discarded, matching spec §4.D.2
	}
	close(in.done)
}

func mirrorStderr(serverName string, r io.Reader, logger *zap.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debug("child stderr", telemetry.ServerNameField(serverName), zap.String("line", scanner.Text()))
	}
}

// call performs one request/response round trip against the child,
// enforcing the 30s deadline of spec §4.D.2/§5 without killing the
// instance on expiry.
func (in *instance) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	in.callMu.Lock()
	defer in.callMu.Unlock()

	id := in.nextID.Add(1)
	idRaw := []byte(strconv.FormatUint(id, 10))

	frame, err := protocol.EncodeRequest(idRaw, method, params)
	if err != nil {
		return nil, domain.Wrap(domain.CodeInternal, "child.call", err)
	}

	ch := make(chan *protocol.Response, 1)
	in.pendingMu.Lock()
	in.pending[string(idRaw)] = ch
	in.pendingMu.Unlock()

	if _, err := in.stdin.Write(frame); err != nil {
		in.forgetPending(string(idRaw))
		return nil, connectionError("child.call", err)
	}
	in.touch()

	timer := time.NewTimer(domain.RequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, domain.E(domain.CodeUnavailable, "child.call", resp.Error.Message)
		}
		return resp.Result, nil
	case <-in.done:
		in.forgetPending(string(idRaw))
		return nil, connectionError("child.call", domain.ErrConnectionClosed)
	case <-timer.C:
		in.forgetPending(string(idRaw))
		return nil, domain.E(domain.CodeDeadlineExceeded, "child.call", "Timeout waiting for response")
	case <-ctx.Done():
		in.forgetPending(string(idRaw))
		return nil, domain.Wrap(domain.CodeCanceled, "child.call", ctx.Err())
	}
}

// notify sends a best-effort JSON-RPC notification; no reply is
// awaited.
func (in *instance) notify(method string, params any) error {
	in.callMu.Lock()
	defer in.callMu.Unlock()

	frame, err := protocol.EncodeNotification(method, params)
	if err != nil {
		return err
	}
	if _, err := in.stdin.Write(frame); err != nil {
		return connectionError("child.notify", err)
	}
	return nil
}

func (in *instance) forgetPending(id string) {
	in.pendingMu.Lock()
	delete(in.pending, id)
	in.pendingMu.Unlock()
}

// alive reports whether the process is still running: false once it
// has exited, its stdout has closed, or it was never started.
func (in *instance) alive() bool {
	if in.cmd == nil || in.cmd.Process == nil {
		return false
	}
	select {
	case <-in.done:
		return false
	default:
		return in.cmd.ProcessState == nil
	}
}

func (in *instance) kill() {
	if in.cmd == nil || in.cmd.Process == nil {
		return
	}
	_ = in.cmd.Process.Kill()
	_ = in.cmd.Wait()
}

// connectionError wraps err as a retryable, connection-class domain
// error (spec §7's "Transport (connection-class)" row).
func connectionError(op string, err error) *domain.Error {
	return domain.Wrap(domain.CodeUnavailable, op, fmt.Errorf("%w", err)).WithRetryable(true)
}

// isConnectionClass reports whether err is a connection-class error
// that should trigger the manager's one restart-and-retry (spec §4.D,
// §7).
func isConnectionClass(err error) bool {
	return domain.IsRetryable(err) && domain.CodeFrom(err) == domain.CodeUnavailable
}
