// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes read-only councilhub tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/councilhub/internal/apperr"
	"github.com/starford/councilhub/internal/doctree"
	"github.com/starford/councilhub/internal/listing"
	"github.com/starford/councilhub/internal/models"
	"github.com/starford/councilhub/internal/treeview"
)

// ContentFormatURI is the resource URI of the content format contract.
const ContentFormatURI = "councilhub://content-format"

// Server wraps the MCP server with councilhub tools.
type Server struct {
	mcp     *server.MCPServer
	listing *listing.Index
	view    *treeview.Serializer
}

// New creates a new MCP server with all councilhub tools registered.
func New(lst *listing.Index, view *treeview.Serializer) *Server {
	s := &Server{listing: lst, view: view}

	s.mcp = server.NewMCPServer(
		"councilhub",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_meetings",
		mcp.WithDescription("List meeting notifications or meeting records, newest session first."),
		mcp.WithString("kind", mcp.Required(),
			mcp.Description("notifi (or notification) for notifications, minutes (or record) for records")),
		mcp.WithBoolean("visible_only", mcp.Description("Only list items visible to the public")),
	), s.listMeetings)

	s.mcp.AddTool(mcp.NewTool("get_meeting",
		mcp.WithDescription("Read a meeting with its full agenda, attachments and media links."),
		mcp.WithString("kind", mcp.Required(), mcp.Description("notifi or minutes")),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Meeting id")),
	), s.getMeeting)

	s.mcp.AddTool(mcp.NewTool("list_regulations",
		mcp.WithDescription("List regulations in category order."),
		mcp.WithBoolean("visible_only", mcp.Description("Only list items visible to the public")),
	), s.listRegulations)

	s.mcp.AddTool(mcp.NewTool("get_regulation",
		mcp.WithDescription("Read a regulation with its chapters, articles, paragraphs, clauses and revision history."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Regulation id")),
	), s.getRegulation)

	s.mcp.AddTool(mcp.NewTool("get_content_contract",
		mcp.WithDescription("Returns the JSON shapes accepted for meeting agendas and regulation bodies."),
	), s.getContentContract)

	s.mcp.AddResource(
		mcp.NewResource(ContentFormatURI, "Content Format Contract",
			mcp.WithResourceDescription("JSON shapes of meeting agendas and regulation bodies."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContentFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func meetingKind(req mcp.CallToolRequest) (models.MeetingKind, error) {
	raw, err := req.RequireString("kind")
	if err != nil {
		return "", err
	}
	switch raw {
	case "notifi", string(models.KindNotification):
		return models.KindNotification, nil
	case "minutes", string(models.KindRecord):
		return models.KindRecord, nil
	}
	return "", fmt.Errorf("unknown kind %q", raw)
}

func requireID(req mcp.CallToolRequest) (uint, error) {
	f, err := req.RequireFloat("id")
	if err != nil {
		return 0, err
	}
	if f < 1 || f != float64(uint(f)) {
		return 0, fmt.Errorf("invalid id %v", f)
	}
	return uint(f), nil
}

func jsonResult(v any, err error) (*mcp.CallToolResult, error) {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError("not found"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listMeetings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := meetingKind(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.listing.Meetings(ctx, kind, req.GetBool("visible_only", false)))
}

func (s *Server) getMeeting(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := meetingKind(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := requireID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.view.Meeting(ctx, doctree.ParentRef{Kind: kind, ID: id}))
}

func (s *Server) listRegulations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.listing.Regulations(ctx, req.GetBool("visible_only", false)))
}

func (s *Server) getRegulation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.view.Regulation(ctx, id))
}

func (s *Server) getContentContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ContentFormatContract), nil
}

func (s *Server) readContentFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ContentFormatURI,
			MIMEType: "text/markdown",
			Text:     ContentFormatContract,
		},
	}, nil
}
