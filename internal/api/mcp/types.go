// Package mcp exposes the memory engine to AI assistants as Model Context
// Protocol tools over line-delimited JSON-RPC 2.0.
package mcp

import (
	"github.com/solo125812/st-voyageai-memory/internal/engine"
	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

// StoreMemoryArgs contains arguments for the store_memory tool.
type StoreMemoryArgs struct {
	EntityID   string     `json:"entity_id"`             // Character or group (required)
	Text       string     `json:"text"`                  // Message to summarize and store (required)
	Role       types.Role `json:"role,omitempty"`        // user or assistant (default: user)
	EntityName string     `json:"entity_name,omitempty"` // Substituted for {{char}}
	UserName   string     `json:"user_name,omitempty"`   // Substituted for {{user}}
	ChatID     string     `json:"chat_id,omitempty"`
}

// StoreMemoryResult contains the stored memory.
type StoreMemoryResult struct {
	Memory  types.MemoryRecord `json:"memory"`
	Message string             `json:"message"`
}

// SearchMemoriesArgs contains arguments for the search_memories tool.
type SearchMemoriesArgs struct {
	EntityID  string   `json:"entity_id"`           // required
	Query     string   `json:"query"`               // required
	TopK      int      `json:"top_k,omitempty"`     // default: settings top_k
	Threshold *float64 `json:"threshold,omitempty"` // default: settings similarity_threshold
}

// SearchMemoriesResult contains ranked memories, best first.
type SearchMemoriesResult struct {
	Results []engine.ScoredMemory `json:"results"`
	Total   int                   `json:"total"`
}

// RecallContextArgs contains arguments for the recall_context tool.
type RecallContextArgs struct {
	EntityID string `json:"entity_id"` // required
	Query    string `json:"query"`     // required
}

// RecallContextResult is the formatted memory block for a prompt.
type RecallContextResult struct {
	Found     bool              `json:"found"`
	Injection *engine.Injection `json:"injection,omitempty"`
}

// EntityArgs names one entity.
type EntityArgs struct {
	EntityID string `json:"entity_id"` // required
}

// ListMemoriesResult contains every memory of an entity in insertion order.
type ListMemoriesResult struct {
	Memories []types.MemoryRecord `json:"memories"`
	Total    int                  `json:"total"`
}

// ListEntitiesResult contains the ids of every entity with a store.
type ListEntitiesResult struct {
	Entities []string `json:"entities"`
}

// DeleteMemoryArgs contains arguments for the delete_memory tool.
type DeleteMemoryArgs struct {
	EntityID string `json:"entity_id"` // required
	ID       string `json:"id"`        // required
}

// DeleteMemoryResult reports whether the memory existed.
type DeleteMemoryResult struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
	Message string `json:"message"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"` // Must be "2.0"
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      any    `json:"id"` // string, number, or null
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	ID      any           `json:"id"`
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
	ErrCodeServerError    = -32000
)

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPTool describes a single tool exposed via tools/list.
type MCPTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text"
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
