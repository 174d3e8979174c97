// Command mcp serves the question-answering pipeline as an MCP stdio tool so
// editor and agent hosts can query the knowledge base directly.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/knowledge-qa/internal/bootstrap"
	"github.com/kirillkom/knowledge-qa/internal/config"
	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/observability/logging"
)

const serviceName = "knowledge-qa-mcp"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger, nil)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	mcpServer := server.NewMCPServer("knowledge-qa", "1.0.0", server.WithToolCapabilities(false))

	askTool := mcp.NewTool("ask",
		mcp.WithDescription("Answer a question from the indexed knowledge base with cited sources."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question to answer."),
		),
		mcp.WithString("persona",
			mcp.Description("Retrieval persona: educator, researcher, journalist, student, or general. Detected from the question when omitted."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of cited sources to return."),
		),
	)
	mcpServer.AddTool(askTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := request.RequireString("question")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		persona := request.GetString("persona", "")

		req := domain.AnswerRequest{Question: question, Persona: persona}
		if limit := request.GetInt("limit", 0); limit > 0 {
			req.Overrides.MaxResults = &limit
		}

		contract, err := app.AnswerUC.Answer(ctx, req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		payload, err := json.MarshalIndent(contract, "", "  ")
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(string(payload)), nil
	})

	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Error("mcp_server_error", "error", err.Error())
	}
}
