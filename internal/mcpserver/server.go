// Package mcpserver exposes every tool and skill as an MCP tool so other
// agents can drive the calendar directly.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hray3182/calpilot/internal/agent"
	"github.com/hray3182/calpilot/internal/logging"
	"github.com/hray3182/calpilot/internal/tools"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const serverName = "calpilot"

// New builds an MCP server with one tool per registered tool and skill.
func New(a *agent.Agent, version string, loc *time.Location, logger *slog.Logger) (*mcpserver.MCPServer, error) {
	logger = logging.WithOperation(orDefault(logger), "mcp")

	s := mcpserver.NewMCPServer(serverName, version,
		mcpserver.WithToolCapabilities(true),
	)

	for _, def := range a.ListTools() {
		tool, err := toMCPTool(def)
		if err != nil {
			return nil, err
		}
		s.AddTool(tool, ToolHandler(a, def.Name, loc, logger))
	}
	for _, def := range a.ListSkills() {
		tool, err := toMCPTool(def)
		if err != nil {
			return nil, err
		}
		s.AddTool(tool, SkillHandler(a, def.Name, loc, logger))
	}
	return s, nil
}

// Serve runs the server over stdin/stdout until the input closes.
func Serve(s *mcpserver.MCPServer) error {
	if err := mcpserver.ServeStdio(s); err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

func toMCPTool(def tools.Definition) (mcp.Tool, error) {
	schema, err := json.Marshal(def.Parameters)
	if err != nil {
		return mcp.Tool{}, fmt.Errorf("failed to encode schema of %s: %w", def.Name, err)
	}
	return mcp.NewToolWithRawSchema(def.Name, def.Description, schema), nil
}

func ToolHandler(a *agent.Agent, name string, loc *time.Location, logger *slog.Logger) mcpserver.ToolHandlerFunc {
	logger = orDefault(logger)
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := a.CallTool(ctx, name, arguments(request), agent.TurnContext{Location: loc})
		if !res.Success {
			logger.Debug("tool failed", logging.Tool(name), slog.String("message", res.Message))
		}
		return encode(res, res.Success)
	}
}

func SkillHandler(a *agent.Agent, name string, loc *time.Location, logger *slog.Logger) mcpserver.ToolHandlerFunc {
	logger = orDefault(logger)
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := a.CallSkill(ctx, name, arguments(request), agent.TurnContext{Location: loc})
		if !res.Success {
			logger.Debug("skill failed", logging.Skill(name), slog.String("message", res.Message))
		}
		return encode(res, res.Success)
	}
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func arguments(request mcp.CallToolRequest) map[string]any {
	args := request.GetArguments()
	if args == nil {
		return map[string]any{}
	}
	return args
}

// encode returns the result as JSON text. Failures are flagged as tool
// errors so the client sees them without parsing the body.
func encode(v any, ok bool) (*mcp.CallToolResult, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	if !ok {
		return mcp.NewToolResultError(string(body)), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}
