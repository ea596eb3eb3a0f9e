// Package mcpadapter exposes the synchronous analyzer as an MCP tool so
// assistants can analyze local files over stdio.
package mcpadapter

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

const (
	serverName      = "document-pipeline"
	serverVersion   = "1.0.0"
	analyzeToolName = "analyze_file"
)

type Handlers struct {
	analyzer ports.FileAnalyzer
	logger   *slog.Logger
}

func NewHandlers(analyzer ports.FileAnalyzer, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{analyzer: analyzer, logger: logger}
}

// NewServer registers the analyze_file tool.
func NewServer(h *Handlers) *server.MCPServer {
	s := server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false))
	s.AddTool(mcp.NewTool(analyzeToolName,
		mcp.WithDescription("Extract text from a local document and return its structured analysis as JSON."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute path of the file to analyze"),
		),
	), h.AnalyzeFile)
	return s
}

// AnalyzeFile reports analysis failures as tool errors so the caller sees
// the message instead of a protocol failure.
func (h *Handlers) AnalyzeFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := h.analyzer.AnalyzeFile(ctx, path)
	if err != nil {
		h.logger.Warn("mcp_analyze_failed", "path", path, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, err
	}
	h.logger.Info("mcp_analyze_completed", "path", path, "source_kind", result.SourceKind, "success", result.Success)
	return mcp.NewToolResultText(string(payload)), nil
}
