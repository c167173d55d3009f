// Package mcptools exposes the bridge's control plane over MCP so
// sidecar agents and scripts can inspect the crew and speak through
// the bridge without holding the bot token.
package mcptools

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/crewbridge/internal/app"
	"github.com/jaakkos/crewbridge/internal/domain"
)

// Register registers the crew tools with the mcp-go server.
func Register(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	registerTeam(s, svc, logger)
	registerProgress(s, svc, logger)
	registerReply(s, svc, logger)
	registerNotify(s, svc, logger)
}

// registerTeam registers the crew_team tool.
func registerTeam(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("crew_team",
			mcp.WithDescription("List the crew: every worker with its backend, focus, online and working state."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			snapshot := svc.Snapshot()
			if len(snapshot) == 0 {
				return mcp.NewToolResultText("No workers on the team."), nil
			}
			var b strings.Builder
			b.WriteString("Workers:\n")
			for _, w := range snapshot {
				var marks []string
				if w.Focused {
					marks = append(marks, "focused")
				}
				if w.Working {
					marks = append(marks, "working")
				}
				if !w.Online {
					marks = append(marks, "offline")
				}
				line := fmt.Sprintf("- %s (%s)", w.Name, w.Backend)
				if len(marks) > 0 {
					line += " [" + strings.Join(marks, ", ") + "]"
				}
				b.WriteString(line + "\n")
			}
			return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
		},
	)
}

// registerProgress registers the crew_progress tool.
func registerProgress(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("crew_progress",
			mcp.WithDescription("Report one worker's status: online, working, and its recent messages."),
			mcp.WithString("worker", mcp.Description("Worker name (defaults to the focused worker)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			name, _ := args["worker"].(string)
			if name == "" {
				name = svc.Registry().Focus()
			}
			if name == "" {
				return nil, fmt.Errorf("no worker given and none focused")
			}

			var status *app.WorkerStatus
			for _, w := range svc.Snapshot() {
				if w.Name == name {
					w := w
					status = &w
					break
				}
			}
			if status == nil {
				return nil, fmt.Errorf("worker %q not found", name)
			}

			lines := []string{
				"Worker: " + status.Name,
				fmt.Sprintf("Online: %t", status.Online),
				fmt.Sprintf("Working: %t", status.Working),
				fmt.Sprintf("Focused: %t", status.Focused),
			}
			if h := svc.History(); h != nil {
				if recent, err := h.Recent(name, 5); err == nil && len(recent) > 0 {
					lines = append(lines, "Recent messages:")
					for _, d := range recent {
						arrow := "->"
						if d.Direction == domain.DirectionOutbound {
							arrow = "<-"
						}
						lines = append(lines, fmt.Sprintf("  %s %s %s", d.Timestamp.Format("15:04"), arrow, d.Preview))
					}
				}
			}
			return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
		},
	)
}

// registerReply registers the crew_reply tool.
func registerReply(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("crew_reply",
			mcp.WithDescription("Send a reply to the manager's chat on behalf of a worker. Equivalent to the worker's stop hook posting a response."),
			mcp.WithString("worker", mcp.Required(), mcp.Description("Worker the reply speaks for")),
			mcp.WithString("text", mcp.Required(), mcp.Description("Reply text, markdown allowed")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			worker, _ := args["worker"].(string)
			text, _ := args["text"].(string)
			if worker == "" || text == "" {
				return nil, fmt.Errorf("worker and text are required")
			}
			if err := svc.HandleWorkerResponse(worker, text); err != nil {
				if err == domain.ErrWorkerNotFound {
					return nil, fmt.Errorf("no chat bound for worker %q", worker)
				}
				return nil, err
			}
			logger.Printf("mcp: reply delivered for %s", worker)
			return mcp.NewToolResultText("Reply delivered."), nil
		},
	)
}

// registerNotify registers the crew_notify tool.
func registerNotify(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("crew_notify",
			mcp.WithDescription("Send a plain notification to every chat the bridge knows about."),
			mcp.WithString("text", mcp.Required(), mcp.Description("Notification text")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			text, _ := args["text"].(string)
			if text == "" {
				return nil, fmt.Errorf("text is required")
			}
			sent := svc.Notify(text)
			return mcp.NewToolResultText(fmt.Sprintf("Notified %d chat(s).", sent)), nil
		},
	)
}
