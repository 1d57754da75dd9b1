// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the sync engine as tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/notesync/internal/bridge"
)

// Server wraps the MCP server with notesync tools. Every tool goes through
// the bridge facade, so tool output is the same text native callers see.
type Server struct {
	mcp    *server.MCPServer
	facade *bridge.Facade
}

// New creates a new MCP server with all tools registered. f must already be
// initialized with InitApp.
func New(f *bridge.Facade, version string) *Server {
	s := &Server{facade: f}

	s.mcp = server.NewMCPServer(
		"notesync",
		version,
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List every note in the local index with its sync state (clean or dirty)."),
		mcp.WithBoolean("json", mcp.Description("Return a JSON document instead of tab-separated lines")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the cached body of a note. Download it first if it is not cached."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Note path (Notes/<id>/content) or identifier")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("new_note",
		mcp.WithDescription("Create a new local note. It is uploaded by the next save."),
		mcp.WithString("content", mcp.Description("Optional initial body")),
	), s.newNote)

	s.mcp.AddTool(mcp.NewTool("write_note",
		mcp.WithDescription("Replace the body of a note in the local cache. It is uploaded by the next save."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Note path (Notes/<id>/content) or identifier")),
		mcp.WithString("content", mcp.Required(), mcp.Description("New body")),
	), s.writeNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note locally. The next save removes it from the remote service."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Note path (Notes/<id>/content) or identifier")),
	), s.deleteNote)

	s.mcp.AddTool(mcp.NewTool("download",
		mcp.WithDescription("Refresh the local index from the remote service and download changed note bodies."),
		mcp.WithBoolean("skip_download", mcp.Description("Refresh the index only")),
	), s.download)

	s.mcp.AddTool(mcp.NewTool("download_note",
		mcp.WithDescription("Download one note body, replacing any local changes to it."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Note path (Notes/<id>/content) or identifier")),
	), s.downloadNote)

	s.mcp.AddTool(mcp.NewTool("save",
		mcp.WithDescription("Upload locally changed notes to the remote service."),
		mcp.WithBoolean("notes_changed", mcp.Description("Scan the cache for edits before uploading")),
	), s.save)

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

// toolResult maps bridge output onto a tool result.
func toolResult(out string) *mcp.CallToolResult {
	if bridge.IsError(out) {
		return mcp.NewToolResultError(out)
	}
	return mcp.NewToolResultText(out)
}

func flag(req mcp.CallToolRequest, name string) string {
	if req.GetBool(name, false) {
		return name + "=yes"
	}
	return ""
}

func (s *Server) listNotes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source := ""
	if req.GetBool("json", false) {
		source = "format=json"
	}
	return toolResult(s.facade.List(source)), nil
}

func (s *Server) readNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := s.facade.ReadNote("", path)
	if bridge.IsError(out) {
		return mcp.NewToolResultError(out), nil
	}
	return mcp.NewToolResultText(bridge.Body(out)), nil
}

func (s *Server) newNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := s.facade.NewNote("")
	if bridge.IsError(out) {
		return mcp.NewToolResultError(out), nil
	}
	if content := req.GetString("content", ""); content != "" {
		if w := s.facade.WriteNote("", bridge.Body(out), content); bridge.IsError(w) {
			return mcp.NewToolResultError(w), nil
		}
	}
	return mcp.NewToolResultText(out), nil
}

func (s *Server) writeNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toolResult(s.facade.WriteNote("", path, content)), nil
}

func (s *Server) deleteNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toolResult(s.facade.DeleteNote("", path)), nil
}

func (s *Server) download(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toolResult(s.facade.Download(flag(req, "skip_download"))), nil
}

func (s *Server) downloadNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toolResult(s.facade.DownloadNote("", path)), nil
}

func (s *Server) save(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toolResult(s.facade.Save(flag(req, "notes_changed"))), nil
}
