package mcp

import (
	"context"
	"fmt"

	"taskhive-backend/core/marketplace"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerBrowseTasksTool creates a tool for browsing open tasks
func (s *MCPServer) registerBrowseTasksTool() {
	tool := mcp.NewTool("browse_tasks",
		mcp.WithDescription("Browse marketplace tasks with optional filtering and sorting"),
		mcp.WithString("status", mcp.Description("Filter by task status (open, claimed, in_progress, delivered, completed, cancelled)")),
		mcp.WithString("category", mcp.Description("Filter by task category")),
		mcp.WithNumber("min_budget", mcp.Description("Minimum budget in credits")),
		mcp.WithNumber("max_budget", mcp.Description("Maximum budget in credits")),
		mcp.WithString("sort", mcp.Description("Sort order: newest, oldest, budget_high, budget_low")),
		mcp.WithString("cursor", mcp.Description("Opaque pagination cursor from a previous page")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of tasks to return")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()

		filter := marketplace.TaskFilter{
			Status:    marketplace.TaskStatus(toString(args["status"])),
			Category:  toString(args["category"]),
			MinBudget: toInt64(args["min_budget"]),
			MaxBudget: toInt64(args["max_budget"]),
			Sort:      marketplace.TaskSort(toString(args["sort"])),
			Cursor:    marketplace.DecodeCursor(toString(args["cursor"])),
			Limit:     int(toInt64(args["limit"])),
		}

		tasks, page, err := s.store.ListTasks(ctx, filter)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list tasks: %v", err)), nil
		}

		result := map[string]interface{}{
			"tasks":       tasks,
			"count":       len(tasks),
			"has_more":    page.HasMore,
			"next_cursor": page.NextCursor,
		}
		return mcp.NewToolResultText(fmt.Sprintf("Found %d tasks:\n\n%+v", len(tasks), result)), nil
	})
}

// registerGetTaskTool creates a tool for getting a specific task
func (s *MCPServer) registerGetTaskTool() {
	tool := mcp.NewTool("get_task",
		mcp.WithDescription("Get details of a specific task"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("ID of task to retrieve")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := toInt64(request.GetArguments()["task_id"])
		if taskID == 0 {
			return mcp.NewToolResultError("task_id is required"), nil
		}

		task, err := s.store.GetTask(ctx, taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get task: %v", err)), nil
		}

		claims, _ := s.store.ListClaims(ctx, task.ID)
		result := map[string]interface{}{
			"task":        task,
			"claim_count": len(claims),
		}
		return mcp.NewToolResultText(fmt.Sprintf("Task details:\n\n%+v", result)), nil
	})
}

// registerClaimTaskTool creates a tool for claiming an open task
func (s *MCPServer) registerClaimTaskTool() {
	tool := mcp.NewTool("claim_task",
		mcp.WithDescription("Submit a claim on an open task"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("ID of task to claim")),
		mcp.WithNumber("proposed_credits", mcp.Required(), mcp.Description("Credits proposed for the work, between 1 and the task budget")),
		mcp.WithString("message", mcp.Description("Pitch message shown to the task poster")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		taskID := toInt64(args["task_id"])
		if taskID == 0 {
			return mcp.NewToolResultError("task_id is required"), nil
		}
		proposed := toInt64(args["proposed_credits"])
		message := toString(args["message"])

		claim, err := s.engine.Claim(ctx, s.agentID, taskID, proposed, message)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to claim task: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Claim submitted:\n\n%+v", claim)), nil
	})
}

// registerStartTaskTool creates a tool for starting an accepted task
func (s *MCPServer) registerStartTaskTool() {
	tool := mcp.NewTool("start_task",
		mcp.WithDescription("Begin work on a task whose claim was accepted"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("ID of task to start")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := toInt64(request.GetArguments()["task_id"])
		if taskID == 0 {
			return mcp.NewToolResultError("task_id is required"), nil
		}

		task, err := s.engine.StartTask(ctx, s.agentID, taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to start task: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Task started:\n\n%+v", task)), nil
	})
}

// registerSubmitDeliverableTool creates a tool for submitting work
func (s *MCPServer) registerSubmitDeliverableTool() {
	tool := mcp.NewTool("submit_deliverable",
		mcp.WithDescription("Submit a deliverable for a task in progress"),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("ID of task the deliverable is for")),
		mcp.WithString("content", mcp.Required(), mcp.Description("The work product")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := toInt64(request.GetArguments()["task_id"])
		if taskID == 0 {
			return mcp.NewToolResultError("task_id is required"), nil
		}
		content, err := request.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		d, err := s.engine.SubmitDeliverable(ctx, s.agentID, taskID, content)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to submit deliverable: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Deliverable submitted (revision %d):\n\n%+v", d.RevisionNumber, d)), nil
	})
}

// registerMyClaimsTool creates a tool for listing the agent's claims
func (s *MCPServer) registerMyClaimsTool() {
	tool := mcp.NewTool("my_claims",
		mcp.WithDescription("List this agent's claims with optional status filter"),
		mcp.WithString("status", mcp.Description("Filter by claim status (pending, accepted, rejected, withdrawn)")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := marketplace.ClaimStatus(toString(request.GetArguments()["status"]))

		claims, err := s.store.ListAgentClaims(ctx, s.agentID, status)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list claims: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Found %d claims:\n\n%+v", len(claims), claims)), nil
	})
}

// registerMyTasksTool creates a tool for listing tasks assigned to the agent
func (s *MCPServer) registerMyTasksTool() {
	tool := mcp.NewTool("my_tasks",
		mcp.WithDescription("List tasks currently assigned to this agent"),
		mcp.WithString("status", mcp.Description("Filter by task status (claimed, in_progress, delivered, completed)")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := marketplace.TaskStatus(toString(request.GetArguments()["status"]))

		tasks, err := s.store.ListAgentTasks(ctx, s.agentID, status)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list tasks: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Found %d tasks:\n\n%+v", len(tasks), tasks)), nil
	})
}
