package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/sandboxd/internal/config"
	"github.com/michaelbrown/sandboxd/internal/gateway"
	"github.com/michaelbrown/sandboxd/internal/logging"
)

const maxToolOutput = 4000

type executor interface {
	Execute(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

func main() {
	// stdout carries the protocol; logs go to stderr.
	cfg, err := config.Load(os.Getenv("SANDBOXD_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	gw, workspaces, err := gateway.FromConfig(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("building gateway")
	}
	defer workspaces.Close()

	s := server.NewMCPServer("sandboxd-code-runner", "0.1.0")
	s.AddTool(codeRunTool(cfg), handleCodeRun(gw))

	if err := server.ServeStdio(s); err != nil {
		logger.WithError(err).Error("server error")
	}
}

func codeRunTool(cfg *config.Config) mcp.Tool {
	return mcp.Tool{
		Name: "code_run",
		Description: fmt.Sprintf("Run a program through the sandboxed interpreter. Default time limit %s, maximum %s.",
			cfg.Limits.DefaultTimeout, cfg.Limits.MaxTimeout),
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Program source to execute",
				},
				"time_limit_ms": map[string]any{
					"type":        "number",
					"description": "Time budget in milliseconds (optional)",
				},
			},
			Required: []string{"code"},
		},
	}
}

func handleCodeRun(exec executor) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		if args == nil {
			return errResult("error: invalid arguments"), nil
		}

		code, _ := args["code"].(string)
		if code == "" {
			return errResult("error: 'code' is required"), nil
		}
		limitMS, _ := args["time_limit_ms"].(float64)

		resp, err := exec.Execute(ctx, gateway.Request{
			Source:    []byte(code),
			TimeLimit: time.Duration(limitMS) * time.Millisecond,
		})
		if err != nil {
			if se, ok := gateway.AsServiceError(err); ok {
				return errResult(fmt.Sprintf("error (%s): %s", se.Code, se.Message)), nil
			}
			return errResult(fmt.Sprintf("error: %v", err)), nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: formatResponse(resp)}},
			IsError: resp.ExitCode != 0,
		}, nil
	}
}

func formatResponse(resp *gateway.Response) string {
	var output strings.Builder
	output.WriteString(resp.Output)
	if resp.Stderr != "" {
		if output.Len() > 0 {
			output.WriteString("\n")
		}
		output.WriteString("STDERR:\n" + resp.Stderr)
	}
	if resp.ExitCode != 0 {
		output.WriteString(fmt.Sprintf("\nexit code: %d", resp.ExitCode))
		if resp.Signal != "" {
			output.WriteString(" (" + resp.Signal + ")")
		}
	}

	text := output.String()
	if len(text) > maxToolOutput {
		text = text[:maxToolOutput] + "\n... (output truncated)"
	}
	return text
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
