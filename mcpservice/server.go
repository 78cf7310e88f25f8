package mcpservice

import (
	"github.com/ggoodman/mcp-vault-server/mcp"
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// Server is the capability set offered to one session. Absent containers
// mean the capability is not advertised.
type Server struct {
	info         mcp.ImplementationInfo
	instructions string
	tools        *ToolsContainer
	prompts      *PromptsContainer
	resources    *ResourcesContainer
	logger       *SessionLogger
}

// NewServer builds a Server from opts. A server without tools still
// advertises an empty tools capability.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}
	if s.tools == nil {
		s.tools = NewToolsContainer()
	}
	return s
}

// WithServerInfo sets the implementation info returned by initialize.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(s *Server) { s.info = info }
}

// WithInstructions sets the instructions returned by initialize.
func WithInstructions(instr string) ServerOption {
	return func(s *Server) { s.instructions = instr }
}

// WithTools sets the tool set.
func WithTools(c *ToolsContainer) ServerOption {
	return func(s *Server) { s.tools = c }
}

// WithPrompts sets the prompt set. Nil or empty hides the capability.
func WithPrompts(c *PromptsContainer) ServerOption {
	return func(s *Server) {
		if c != nil && c.Len() > 0 {
			s.prompts = c
		}
	}
}

// WithResources sets the resource set.
func WithResources(c *ResourcesContainer) ServerOption {
	return func(s *Server) { s.resources = c }
}

// WithSessionLogger enables the logging capability.
func WithSessionLogger(l *SessionLogger) ServerOption {
	return func(s *Server) { s.logger = l }
}

func (s *Server) Info() mcp.ImplementationInfo   { return s.info }
func (s *Server) Instructions() string           { return s.instructions }
func (s *Server) Tools() *ToolsContainer         { return s.tools }
func (s *Server) Prompts() *PromptsContainer     { return s.prompts }
func (s *Server) Resources() *ResourcesContainer { return s.resources }
func (s *Server) Logger() *SessionLogger         { return s.logger }

// Capabilities describes s for the initialize response.
func (s *Server) Capabilities() mcp.ServerCapabilities {
	var caps mcp.ServerCapabilities
	caps.Tools = &struct {
		ListChanged bool `json:"listChanged"`
	}{}
	if s.prompts != nil {
		caps.Prompts = &struct {
			ListChanged bool `json:"listChanged"`
		}{}
	}
	if s.resources != nil {
		sub := s.resources.SubscriptionsEnabled()
		caps.Resources = &struct {
			ListChanged bool `json:"listChanged"`
			Subscribe   bool `json:"subscribe"`
		}{ListChanged: sub, Subscribe: sub}
		if s.resources.HasCompletions() {
			caps.Completions = &struct{}{}
		}
	}
	if s.logger != nil {
		caps.Logging = &struct{}{}
	}
	return caps
}
