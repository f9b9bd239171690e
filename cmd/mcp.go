package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/fabfab/visacoach/chat"
	"github.com/fabfab/visacoach/index"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server exposing the visa knowledge base over stdio",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	svc, err := a.Open(ctx)
	if err != nil {
		if errors.Is(err, index.ErrIndexNotFound) {
			return fmt.Errorf("%w\nRun 'visacoach ingest --crawl' first to build the index", err)
		}
		return err
	}

	s := mcpserver.NewMCPServer("visacoach", "1.0.0", mcpserver.WithToolCapabilities(false))
	s.AddTool(askVisaQuestionTool(), makeAskHandler(svc))
	s.AddTool(searchKnowledgeBaseTool(), makeSearchHandler(svc))

	return mcpserver.ServeStdio(s)
}

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func askVisaQuestionTool() mcp.Tool {
	return mcp.NewTool("ask_visa_question",
		mcp.WithDescription("Answer a question about F-1 CPT, OPT or SEVIS using the crawled ISSS pages and forms. Vague questions come back asking for a clarification."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The student's question"),
		),
		mcp.WithString("clarification",
			mcp.Description("Extra context such as semester, full-time or part-time, paid or unpaid"),
		),
	)
}

func searchKnowledgeBaseTool() mcp.Tool {
	return mcp.NewTool("search_knowledge_base",
		mcp.WithDescription("Return the indexed passages most similar to a query, with their source URLs or file paths."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language query"),
		),
	)
}

func makeAskHandler(svc *chat.Service) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		if strings.TrimSpace(query) == "" {
			return mcp.NewToolResultError("query is required"), nil
		}

		sess, err := svc.Ask(ctx, chat.Session{OriginalQuery: query, Clarification: req.GetString("clarification", "")})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("answer failed: %v", err)), nil
		}
		if sess.NeedsClarification {
			return mcp.NewToolResultText("The question is too general to answer. Ask the student which semester they are in, whether the position is full-time or part-time, and whether it is paid or unpaid, then call again with a clarification."), nil
		}

		return mcp.NewToolResultText(formatAnswer(sess)), nil
	}
}

func formatAnswer(sess chat.Session) string {
	var sb strings.Builder
	sb.WriteString(sess.Answer)
	if len(sess.Citations) > 0 {
		sb.WriteString("\n\nSources:\n")
		for i, c := range sess.Citations {
			fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, c.Title, c.Source)
		}
	}
	sb.WriteString("\n\n" + disclaimer)
	return sb.String()
}

func makeSearchHandler(svc *chat.Service) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		if strings.TrimSpace(query) == "" {
			return mcp.NewToolResultError("query is required"), nil
		}

		hits, err := svc.Search(ctx, query)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcp.NewToolResultText(formatHits(query, hits)), nil
	}
}

func formatHits(query string, hits []index.Hit) string {
	if len(hits) == 0 {
		return fmt.Sprintf("No passages found for %q.", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for %q\n\n", query)
	for i, h := range hits {
		fmt.Fprintf(&sb, "### %d. %s (score %.3f)\n%s\n\n%s\n\n", i+1, h.Chunk.Title, h.Score, h.Chunk.Source, strings.TrimSpace(h.Chunk.Text))
	}
	return sb.String()
}
