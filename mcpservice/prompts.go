package mcpservice

import (
	"context"
	"errors"
	"fmt"

	"github.com/ggoodman/mcp-vault-server/mcp"
)

// PromptHandler materializes a prompt.
type PromptHandler func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error)

// StaticPrompt pairs a prompt descriptor with its handler.
type StaticPrompt struct {
	Descriptor mcp.Prompt
	Handler    PromptHandler
}

// TextPrompt is a prompt that always returns the same single user message.
func TextPrompt(name, description, text string) StaticPrompt {
	return StaticPrompt{
		Descriptor: mcp.Prompt{Name: name, Description: description},
		Handler: func(context.Context, *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			return &mcp.GetPromptResult{
				Description: description,
				Messages: []mcp.PromptMessage{{
					Role:    mcp.RoleUser,
					Content: mcp.ContentBlock{Type: mcp.ContentTypeText, Text: text},
				}},
			}, nil
		},
	}
}

// ErrPromptNotFound is returned by Get for unknown prompt names.
var ErrPromptNotFound = errors.New("prompt not found")

// PromptsContainer is the fixed prompt set of a session.
type PromptsContainer struct {
	prompts  []mcp.Prompt
	handlers map[string]PromptHandler
	pageSize int
}

// NewPromptsContainer registers defs in order.
func NewPromptsContainer(defs ...StaticPrompt) *PromptsContainer {
	c := &PromptsContainer{
		handlers: make(map[string]PromptHandler, len(defs)),
		pageSize: DefaultPageSize,
	}
	for _, d := range defs {
		if _, dup := c.handlers[d.Descriptor.Name]; !dup {
			c.prompts = append(c.prompts, d.Descriptor)
		}
		c.handlers[d.Descriptor.Name] = d.Handler
	}
	return c
}

// Len reports how many prompts are registered.
func (c *PromptsContainer) Len() int { return len(c.prompts) }

// ListPrompts returns one page of descriptors.
func (c *PromptsContainer) ListPrompts(_ context.Context, cursor string) Page[mcp.Prompt] {
	return paginate(c.prompts, cursor, c.pageSize)
}

// GetPrompt materializes the named prompt.
func (c *PromptsContainer) GetPrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	h := c.handlers[req.Name]
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, req.Name)
	}
	return h(ctx, req)
}
