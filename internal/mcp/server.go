package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/codeindex/internal/manager"
	"github.com/dshills/codeindex/internal/parser"
)

const (
	// ServerName is the MCP server name
	ServerName = "codeindex"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// ErrNoWorkspace is returned when no workspace has been opened
var ErrNoWorkspace = errors.New("no workspace has been indexed")

// ManagerFactory creates the index manager of a workspace
type ManagerFactory func(workspacePath string) (*manager.Manager, error)

// Server wraps the MCP server with one index manager per workspace
type Server struct {
	mcp        *server.MCPServer
	newManager ManagerFactory
	parser     *parser.Parser
	logger     *slog.Logger

	mu        sync.Mutex
	managers  map[string]*manager.Manager
	workspace string // Active workspace, the last one opened
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithParser replaces the payload parser
func WithParser(p *parser.Parser) Option {
	return func(s *Server) {
		if p != nil {
			s.parser = p
		}
	}
}

// NewServer creates a server. When defaultWorkspace is set it becomes the
// active workspace and is initialized on first use.
func NewServer(defaultWorkspace string, newManager ManagerFactory, opts ...Option) (*Server, error) {
	s := &Server{
		mcp:        server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		newManager: newManager,
		logger:     slog.Default(),
		managers:   make(map[string]*manager.Manager),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "mcp"))
	if s.parser == nil {
		s.parser = parser.New(parser.WithLogger(s.logger))
	}
	if defaultWorkspace != "" {
		abs, err := filepath.Abs(defaultWorkspace)
		if err != nil {
			return nil, fmt.Errorf("resolve workspace: %w", err)
		}
		s.workspace = abs
	}

	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.Close() }()
	s.logger.Info("serving MCP on stdio", slog.String("workspace", s.workspace))
	return server.ServeStdio(s.mcp)
}

// Close releases every workspace manager
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for path, m := range s.managers {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}
	s.managers = make(map[string]*manager.Manager)
	return errors.Join(errs...)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexWorkspaceTool(), s.handleIndexWorkspace)
	s.mcp.AddTool(codebaseSearchTool(), s.handleCodebaseSearch)
	s.mcp.AddTool(getIndexStatusTool(), s.handleGetIndexStatus)
	s.mcp.AddTool(parseDiffPayloadTool(), s.handleParseDiffPayload)
}

// managerFor returns the initialized manager of path and makes it active
func (s *Server) managerFor(ctx context.Context, path string) (*manager.Manager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.managers[path]
	if !ok {
		var err error
		m, err = s.newManager(path)
		if err != nil {
			return nil, err
		}
		s.managers[path] = m
	}
	if !m.IsInitialized() {
		if _, err := m.Initialize(ctx); err != nil {
			return nil, err
		}
	}
	s.workspace = path
	return m, nil
}

// activeManager returns the manager of the active workspace
func (s *Server) activeManager(ctx context.Context) (*manager.Manager, string, error) {
	s.mu.Lock()
	path := s.workspace
	s.mu.Unlock()
	if path == "" {
		return nil, "", ErrNoWorkspace
	}
	m, err := s.managerFor(ctx, path)
	return m, path, err
}
