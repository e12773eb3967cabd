package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/solo125812/st-voyageai-memory/internal/engine"
	"github.com/solo125812/st-voyageai-memory/internal/logging"
	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

const protocolVersion = "2024-11-05"

// memoryEngine is the subset of *engine.Engine used by the MCP server.
type memoryEngine interface {
	ProcessAndStore(ctx context.Context, text string, role types.Role, ec engine.EntityContext) (types.MemoryRecord, error)
	Search(ctx context.Context, entityID, queryText string, k int, threshold *float64, debug bool) (*engine.SearchResult, error)
	BuildInjection(ctx context.Context, queryText, entityID string) (*engine.Injection, error)
	Memories(ctx context.Context, entityID string) []types.MemoryRecord
	Stats(ctx context.Context, entityID string) types.Stats
	Entities(ctx context.Context) ([]string, error)
	DeleteMemory(ctx context.Context, entityID, memoryID string) (bool, error)
}

// Server implements the Model Context Protocol over a memory engine.
type Server struct {
	engine    memoryEngine
	version   string
	sessionID string
	logger    *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithVersion sets the version reported in the initialize handshake.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// NewServer creates a new MCP server instance.
func NewServer(e memoryEngine, opts ...ServerOption) *Server {
	s := &Server{
		engine:    e,
		version:   "dev",
		sessionID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.With("mcp").With("session_id", s.sessionID)
	return s
}

type toolHandler func(ctx context.Context, params any) (any, error)

func (s *Server) tools() map[string]toolHandler {
	return map[string]toolHandler{
		"store_memory":    s.handleStoreMemory,
		"search_memories": s.handleSearchMemories,
		"recall_context":  s.handleRecallContext,
		"list_memories":   s.handleListMemories,
		"memory_stats":    s.handleMemoryStats,
		"list_entities":   s.handleListEntities,
		"delete_memory":   s.handleDeleteMemory,
	}
}

// HandleRequest processes a JSON-RPC 2.0 request and returns the encoded
// response. Tool names are also accepted as methods for direct callers.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err.Error())
	}
	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	var result any
	var err error

	switch req.Method {
	case "initialize":
		result = MCPInitializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities:    MCPServerCapabilities{Tools: &MCPToolsCapability{}},
			ServerInfo:      MCPServerInfo{Name: "stmem", Version: s.version},
		}
	case "initialized", "notifications/initialized":
		result = map[string]any{}
	case "tools/list":
		result = MCPToolsListResult{Tools: toolList()}
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)
	default:
		handler, ok := s.tools()[req.Method]
		if !ok {
			return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
		}
		result, err = handler(ctx, req.Params)
	}

	if err != nil {
		return s.errorResponse(req.ID, ErrCodeServerError, err.Error(), nil)
	}
	return s.successResponse(req.ID, result)
}

// handleToolsCall dispatches a tools/call request and wraps the result in
// the MCP content envelope. Tool failures are reported in the envelope,
// not as JSON-RPC errors.
func (s *Server) handleToolsCall(ctx context.Context, params any) (any, error) {
	var p MCPToolCallParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	handler, ok := s.tools()[p.Name]
	if !ok {
		return toolError(fmt.Sprintf("unknown tool: %s", p.Name)), nil
	}

	result, err := handler(ctx, p.Arguments)
	if err != nil {
		s.logger.Warn("tool call failed", "tool", p.Name, "error", err)
		return toolError(err.Error()), nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal result")
	}
	return &MCPToolCallResult{Content: []MCPToolCallContent{{Type: "text", Text: string(text)}}}, nil
}

func toolError(msg string) *MCPToolCallResult {
	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: msg}},
		IsError: true,
	}
}

func requireEntity(id string) error {
	if id == "" {
		return goerr.New("entity_id is required")
	}
	return nil
}

// failure renders an engine error as the message a user would see.
func failure(action string, err error) error {
	return goerr.Wrap(err, engine.Failure(action, err).Message)
}

func (s *Server) handleStoreMemory(ctx context.Context, params any) (any, error) {
	var args StoreMemoryArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if err := requireEntity(args.EntityID); err != nil {
		return nil, err
	}
	if args.Text == "" {
		return nil, goerr.New("text is required")
	}
	if args.Role == "" {
		args.Role = types.RoleUser
	}
	if args.Role != types.RoleUser && args.Role != types.RoleAssistant {
		return nil, goerr.New("role must be user or assistant", goerr.V("role", args.Role))
	}

	rec, err := s.engine.ProcessAndStore(ctx, args.Text, args.Role, engine.EntityContext{
		EntityID:   args.EntityID,
		EntityName: args.EntityName,
		UserName:   args.UserName,
		ChatID:     args.ChatID,
	})
	if err != nil {
		return nil, failure("Store", err)
	}
	return &StoreMemoryResult{Memory: rec, Message: "Memory stored."}, nil
}

func (s *Server) handleSearchMemories(ctx context.Context, params any) (any, error) {
	var args SearchMemoriesArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if err := requireEntity(args.EntityID); err != nil {
		return nil, err
	}
	if args.Query == "" {
		return nil, goerr.New("query is required")
	}

	res, err := s.engine.Search(ctx, args.EntityID, args.Query, args.TopK, args.Threshold, false)
	if err != nil {
		return nil, failure("Search", err)
	}
	return &SearchMemoriesResult{Results: res.Results, Total: len(res.Results)}, nil
}

func (s *Server) handleRecallContext(ctx context.Context, params any) (any, error) {
	var args RecallContextArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if err := requireEntity(args.EntityID); err != nil {
		return nil, err
	}
	if args.Query == "" {
		return nil, goerr.New("query is required")
	}

	inj, err := s.engine.BuildInjection(ctx, args.Query, args.EntityID)
	if err != nil {
		return nil, failure("Recall", err)
	}
	return &RecallContextResult{Found: inj != nil, Injection: inj}, nil
}

func (s *Server) handleListMemories(ctx context.Context, params any) (any, error) {
	var args EntityArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if err := requireEntity(args.EntityID); err != nil {
		return nil, err
	}
	memories := s.engine.Memories(ctx, args.EntityID)
	if memories == nil {
		memories = []types.MemoryRecord{}
	}
	return &ListMemoriesResult{Memories: memories, Total: len(memories)}, nil
}

func (s *Server) handleMemoryStats(ctx context.Context, params any) (any, error) {
	var args EntityArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if err := requireEntity(args.EntityID); err != nil {
		return nil, err
	}
	stats := s.engine.Stats(ctx, args.EntityID)
	return &stats, nil
}

func (s *Server) handleListEntities(ctx context.Context, _ any) (any, error) {
	ids, err := s.engine.Entities(ctx)
	if err != nil {
		return nil, failure("List", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return &ListEntitiesResult{Entities: ids}, nil
}

func (s *Server) handleDeleteMemory(ctx context.Context, params any) (any, error) {
	var args DeleteMemoryArgs
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if err := requireEntity(args.EntityID); err != nil {
		return nil, err
	}
	if args.ID == "" {
		return nil, goerr.New("id is required")
	}

	deleted, err := s.engine.DeleteMemory(ctx, args.EntityID, args.ID)
	if err != nil {
		return nil, failure("Delete", err)
	}
	msg := "Memory deleted."
	if !deleted {
		msg = "Memory was already gone."
	}
	return &DeleteMemoryResult{ID: args.ID, Deleted: deleted, Message: msg}, nil
}

func schema(required []string, properties map[string]any) map[string]any {
	out := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

func toolList() []MCPTool {
	entity := prop("string", "Character or group id")
	return []MCPTool{
		{
			Name:        "store_memory",
			Description: "Summarize a chat message and store it as a long-term memory of the entity.",
			InputSchema: schema([]string{"entity_id", "text"}, map[string]any{
				"entity_id":   entity,
				"text":        prop("string", "The message to remember"),
				"role":        map[string]any{"type": "string", "enum": []string{"user", "assistant"}, "description": "Who wrote the message (default user)"},
				"entity_name": prop("string", "Character display name"),
				"user_name":   prop("string", "User display name"),
				"chat_id":     prop("string", "Chat the message belongs to"),
			}),
		},
		{
			Name:        "search_memories",
			Description: "Find the entity's memories most similar to a query, best first.",
			InputSchema: schema([]string{"entity_id", "query"}, map[string]any{
				"entity_id": entity,
				"query":     prop("string", "Natural-language query"),
				"top_k":     prop("integer", "Maximum results (default from settings)"),
				"threshold": prop("number", "Minimum cosine similarity in [-1, 1] (default from settings)"),
			}),
		},
		{
			Name:        "recall_context",
			Description: "Build the formatted memory block that would be injected into a prompt for the query.",
			InputSchema: schema([]string{"entity_id", "query"}, map[string]any{
				"entity_id": entity,
				"query":     prop("string", "The latest message or topic"),
			}),
		},
		{
			Name:        "list_memories",
			Description: "List every memory of the entity in insertion order.",
			InputSchema: schema([]string{"entity_id"}, map[string]any{"entity_id": entity}),
		},
		{
			Name:        "memory_stats",
			Description: "Count the entity's memories and report the embedding dimension.",
			InputSchema: schema([]string{"entity_id"}, map[string]any{"entity_id": entity}),
		},
		{
			Name:        "list_entities",
			Description: "List every entity that has stored memories.",
			InputSchema: schema(nil, map[string]any{}),
		},
		{
			Name:        "delete_memory",
			Description: "Delete one memory by id.",
			InputSchema: schema([]string{"entity_id", "id"}, map[string]any{
				"entity_id": entity,
				"id":        prop("string", "Memory id"),
			}),
		},
	}
}

// unmarshalParams decodes JSON-RPC params into a typed struct.
func unmarshalParams(params any, dest any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal params")
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return goerr.Wrap(err, "invalid params")
	}
	return nil
}

func (s *Server) successResponse(id any, result any) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{JSONRPC: "2.0", Result: result, ID: id})
}

func (s *Server) errorResponse(id any, code int, message string, data any) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
		ID:      id,
	})
}
