package router

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
	"github.com/Soflution1/mcp-on-demand/internal/infra/child"
	"github.com/Soflution1/mcp-on-demand/internal/infra/protocol"
	"github.com/Soflution1/mcp-on-demand/internal/infra/search"
	"github.com/Soflution1/mcp-on-demand/internal/telemetry"
)

// Router implements spec §4.E: the MCP method dispatch table shared
// by every transport adapter. It holds no lifecycle state of its own
// beyond the current exposure mode, which hot-reload may flip at
// runtime (spec §4.G). It depends on the concrete manager and search
// types directly (spec §9's "unidirectional ownership": the core
// value owns manager/search/metrics, the router only borrows them).
type Router struct {
	manager *child.Manager
	search  *search.Index
	metrics *telemetry.Metrics
	logger  *zap.Logger

	mode atomic.Value // domain.Mode
}

// NewRouter constructs a Router in the given initial mode.
func NewRouter(m *child.Manager, idx *search.Index, metrics *telemetry.Metrics, mode domain.Mode, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{manager: m, search: idx, metrics: metrics, logger: logger.Named("router")}
	r.mode.Store(mode)
	return r
}

// SetMode updates the exposure mode, taking effect on the next
// tools/list or tools/call dispatch (spec §4.G config hot-reload).
func (r *Router) SetMode(mode domain.Mode) {
	r.mode.Store(mode)
}

func (r *Router) currentMode() domain.Mode {
	return r.mode.Load().(domain.Mode)
}

// Dispatch implements spec §4.E's full method table. It is safe for
// concurrent use by multiple sessions (spec §4.F): all state it reads
// is either immutable per call or already synchronized by the
// manager/search engine it delegates to.
//
// The returned *protocol.Response is nil when req is a notification;
// callers must not write anything to the wire in that case.
func (r *Router) Dispatch(ctx context.Context, req *protocol.Request) *protocol.Response {
	result, rpcErr := r.route(ctx, req)

	if req.IsNotification() {
		return nil
	}
	if rpcErr != nil {
		return &protocol.Response{ID: req.ID, Error: rpcErr}
	}
	return &protocol.Response{ID: req.ID, Result: result}
}

func (r *Router) route(ctx context.Context, req *protocol.Request) (json.RawMessage, *protocol.RPCError) {
	switch req.Method {
	case "initialize":
		return r.handleInitialize()
	case "notifications/initialized":
		return nil, nil
	case "ping":
		return json.RawMessage("{}"), nil
	case "notifications/cancelled":
		r.manager.ForwardNotificationToAllRunning(req.Method, rawParams(req.Params))
		return nil, nil
	case "tools/list":
		return r.handleToolsList()
	case "tools/call":
		return r.handleToolsCall(ctx, req.Params)
	case "prompts/list":
		return r.handleFanOut(ctx, "prompts/list", "prompts", "name")
	case "resources/list":
		return r.handleFanOut(ctx, "resources/list", "resources", "uri")
	case "resources/templates/list":
		return r.handleFanOut(ctx, "resources/templates/list", "resourceTemplates", "uriTemplate")
	case "prompts/get":
		return r.handleSingleForward(ctx, req.Params, "prompts/get", "name")
	case "resources/read":
		return r.handleSingleForward(ctx, req.Params, "resources/read", "uri")
	case "completion/complete":
		body, _ := json.Marshal(completionResult{Completion: completionValues{Values: []string{}}})
		return body, nil
	default:
		return nil, &protocol.RPCError{Code: domain.JSONRPCMethodNotFound, Message: "Method not found"}
	}
}

func (r *Router) handleInitialize() (json.RawMessage, *protocol.RPCError) {
	caps := capabilities{
		Tools:     &toolsCapability{},
		Prompts:   &toolsCapability{},
		Resources: &toolsCapability{},
	}
	result := initializeResult{
		ProtocolVersion: domain.ProtocolVersion,
		Capabilities:    caps,
		ServerInfo:      serverInfo{Name: "mcp-on-demand", Version: "1.0.0"},
	}
	body, err := json.Marshal(result)
	if err != nil {
		return nil, &protocol.RPCError{Code: domain.JSONRPCServerError, Message: err.Error()}
	}
	return body, nil
}

func (r *Router) handleToolsList() (json.RawMessage, *protocol.RPCError) {
	var tools []ToolDescriptor

	if r.currentMode() == domain.ModeDiscover {
		servers := strings.Join(r.manager.ServerNames(), ", ")
		tools = []ToolDescriptor{
			{
				Name:        "discover",
				Description: "Search for tools across configured MCP servers (" + servers + ") by keyword.",
				InputSchema: discoverInputSchema,
			},
			{
				Name:        "execute",
				Description: "Execute a tool on a configured MCP server (" + servers + ").",
				InputSchema: executeInputSchema,
			},
		}
	} else {
		catalog := r.search.GetCatalog()
		tools = make([]ToolDescriptor, 0, len(catalog))
		for _, entry := range catalog {
			found, ok := r.search.FindTool(entry.Server, entry.Tool)
			if !ok {
				continue
			}
			tools = append(tools, ToolDescriptor{
				Name:        entry.Server + domain.QualifiedNameSeparator + entry.Tool,
				Description: found.Description,
				InputSchema: found.ToolDef.InputSchema,
			})
		}
	}

	body, err := json.Marshal(toolsListResult{Tools: tools})
	if err != nil {
		return nil, &protocol.RPCError{Code: domain.JSONRPCServerError, Message: err.Error()}
	}
	return body, nil
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (r *Router) handleToolsCall(ctx context.Context, raw json.RawMessage) (json.RawMessage, *protocol.RPCError) {
	var params toolCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &protocol.RPCError{Code: domain.JSONRPCInvalidParams, Message: "invalid tools/call params"}
	}

	switch params.Name {
	case "discover":
		return r.handleDiscoverCall(params.Arguments)
	case "execute":
		return r.handleExecuteCall(ctx, params.Arguments)
	default:
		return r.handlePassthroughCall(ctx, params.Name, params.Arguments)
	}
}

type discoverArgs struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (r *Router) handleDiscoverCall(raw json.RawMessage) (json.RawMessage, *protocol.RPCError) {
	var args discoverArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, &protocol.RPCError{Code: domain.JSONRPCInvalidParams, Message: "invalid discover arguments"}
		}
	}
	if args.TopK <= 0 {
		args.TopK = domain.DefaultTopK
	}

	result := r.runDiscover(args.Query, args.TopK)
	body, err := textResult(result)
	if err != nil {
		return nil, &protocol.RPCError{Code: domain.JSONRPCServerError, Message: err.Error()}
	}
	return body, nil
}

type executeArgs struct {
	Server    string          `json:"server"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

func (r *Router) handleExecuteCall(ctx context.Context, raw json.RawMessage) (json.RawMessage, *protocol.RPCError) {
	var args executeArgs
	if err := json.Unmarshal(raw, &args); err != nil || args.Server == "" || args.Tool == "" {
		return nil, &protocol.RPCError{Code: domain.JSONRPCInvalidParams, Message: "execute requires server and tool"}
	}
	return r.callAndRecord(ctx, args.Server, args.Tool, args.Arguments)
}

func (r *Router) handlePassthroughCall(ctx context.Context, qualified string, args json.RawMessage) (json.RawMessage, *protocol.RPCError) {
	server, tool, ok := splitQualifiedName(qualified)
	if !ok {
		return nil, &protocol.RPCError{Code: domain.JSONRPCInvalidParams, Message: "malformed qualified tool name: " + qualified}
	}
	return r.callAndRecord(ctx, server, tool, args)
}

func (r *Router) callAndRecord(ctx context.Context, server, tool string, args json.RawMessage) (json.RawMessage, *protocol.RPCError) {
	start := time.Now()
	result, err := r.manager.CallTool(ctx, server, tool, args)
	if r.metrics != nil {
		r.metrics.RecordCall(server, time.Since(start), err)
	}
	if err != nil {
		return nil, &protocol.RPCError{Code: domain.JSONRPCCodeFor(domain.CodeFrom(err)), Message: err.Error()}
	}
	return result, nil
}

// splitQualifiedName splits "server__tool" on the first separator
// occurrence (spec §4.E passthrough dispatch).
func splitQualifiedName(qualified string) (server, tool string, ok bool) {
	idx := strings.Index(qualified, domain.QualifiedNameSeparator)
	if idx <= 0 || idx+len(domain.QualifiedNameSeparator) >= len(qualified) {
		return "", "", false
	}
	return qualified[:idx], qualified[idx+len(domain.QualifiedNameSeparator):], true
}

// handleFanOut implements prompts/list, resources/list and
// resources/templates/list (spec §4.E): fan out to every running
// pool, rewrite the prefixed key field, and merge.
func (r *Router) handleFanOut(ctx context.Context, method, containerKey, nameField string) (json.RawMessage, *protocol.RPCError) {
	raw := r.manager.RequestAllRunning(ctx, method, map[string]any{})

	merged := make([]json.RawMessage, 0)
	for _, res := range raw {
		if res.Err != nil {
			r.logger.Warn("fan-out call failed", zap.String("method", method), zap.String("server", res.Name), zap.Error(res.Err))
			continue
		}

		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(res.Result, &envelope); err != nil {
			continue
		}
		itemsRaw, ok := envelope[containerKey]
		if !ok {
			continue
		}
		var items []map[string]any
		if err := json.Unmarshal(itemsRaw, &items); err != nil {
			continue
		}
		for _, item := range items {
			if v, ok := item[nameField].(string); ok {
				item[nameField] = res.Name + domain.QualifiedNameSeparator + v
			}
			rewritten, err := json.Marshal(item)
			if err != nil {
				continue
			}
			merged = append(merged, rewritten)
		}
	}

	body, err := json.Marshal(map[string][]json.RawMessage{containerKey: merged})
	if err != nil {
		return nil, &protocol.RPCError{Code: domain.JSONRPCServerError, Message: err.Error()}
	}
	return body, nil
}

// handleSingleForward implements prompts/get and resources/read (spec
// §4.E): split the prefixed identifier, rewrite the argument, forward
// to that single server.
func (r *Router) handleSingleForward(ctx context.Context, raw json.RawMessage, method, nameField string) (json.RawMessage, *protocol.RPCError) {
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &protocol.RPCError{Code: domain.JSONRPCInvalidParams, Message: "invalid " + method + " params"}
	}

	qualified, ok := args[nameField].(string)
	if !ok {
		return nil, &protocol.RPCError{Code: domain.JSONRPCInvalidParams, Message: method + " requires " + nameField}
	}
	server, value, ok := splitQualifiedName(qualified)
	if !ok {
		return nil, &protocol.RPCError{Code: domain.JSONRPCInvalidParams, Message: "malformed qualified " + nameField + ": " + qualified}
	}

	args[nameField] = value
	forwardParams, err := json.Marshal(args)
	if err != nil {
		return nil, &protocol.RPCError{Code: domain.JSONRPCServerError, Message: err.Error()}
	}

	result, callErr := r.manager.CallMethod(ctx, server, method, forwardParams)
	if callErr != nil {
		return nil, &protocol.RPCError{Code: domain.JSONRPCCodeFor(domain.CodeFrom(callErr)), Message: callErr.Error()}
	}
	return result, nil
}

func rawParams(raw json.RawMessage) map[string]any {
	var v map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &v)
	}
	if v == nil {
		v = map[string]any{}
	}
	return v
}

var discoverInputSchema = json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"},"top_k":{"type":"integer"}},"required":["query"]}`)

var executeInputSchema = json.RawMessage(`{"type":"object","properties":{"server":{"type":"string"},"tool":{"type":"string"},"arguments":{"type":"object"}},"required":["server","tool"]}`)
