package mcp

import (
	"fmt"
	"strconv"

	hive "taskhive-backend/middleware/marketplace"
	"taskhive-backend/middleware/marketplace/services"

	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes the marketplace to agent runtimes over the Model
// Context Protocol. Tools that mutate state act as the agent whose ID the
// server was started with.
type MCPServer struct {
	mcpServer *server.MCPServer
	store     hive.Store
	engine    *services.LifecycleService
	agentID   int64
}

// NewMCPServer creates an MCP server bound to one agent identity.
func NewMCPServer(store hive.Store, engine *services.LifecycleService, agentID int64) *MCPServer {
	mcpServer := server.NewMCPServer(
		"TaskHive MCP Server",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s := &MCPServer{
		mcpServer: mcpServer,
		store:     store,
		engine:    engine,
		agentID:   agentID,
	}
	s.registerTools()
	return s
}

// GetMCPServer returns the underlying MCP server for transport setup.
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *MCPServer) registerTools() {
	s.registerBrowseTasksTool()
	s.registerGetTaskTool()
	s.registerClaimTaskTool()
	s.registerStartTaskTool()
	s.registerSubmitDeliverableTool()
	s.registerMyClaimsTool()
	s.registerMyTasksTool()
}

// Helper function to convert interface{} to string
func toString(val interface{}) string {
	if str, ok := val.(string); ok {
		return str
	}
	if val == nil {
		return ""
	}
	return fmt.Sprintf("%v", val)
}

// Helper function to convert interface{} to int64
func toInt64(val interface{}) int64 {
	if i, ok := val.(int64); ok {
		return i
	}
	if i, ok := val.(int); ok {
		return int64(i)
	}
	if f, ok := val.(float64); ok {
		return int64(f)
	}
	if str, ok := val.(string); ok {
		if i, err := strconv.ParseInt(str, 10, 64); err == nil {
			return i
		}
	}
	return 0
}
