package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ggoodman/mcp-vault-server/mcp"
	"github.com/invopop/jsonschema"
)

// ToolHandler handles a decoded tools/call request.
type ToolHandler func(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

// StaticTool pairs an MCP tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolRequest carries the typed arguments of a call.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolOption configures NewTool.
type ToolOption func(*toolConfig)

type toolConfig struct {
	title                     string
	description               string
	annotations               *mcp.ToolAnnotations
	allowAdditionalProperties bool
}

// WithToolTitle sets the human-friendly display name.
func WithToolTitle(title string) ToolOption {
	return func(c *toolConfig) { c.title = title }
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAnnotations attaches behavioural hints to the descriptor.
func WithToolAnnotations(a mcp.ToolAnnotations) ToolOption {
	return func(c *toolConfig) { c.annotations = &a }
}

// WithToolAllowAdditionalProperties controls whether unknown fields are
// allowed. By default the schema sets additionalProperties=false and
// decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool builds a tool from a typed argument struct A. The input schema is
// reflected from A; fn's error, if any, is reported to the client as an
// error result carrying the error text.
func NewTool[A any](name string, fn func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := newToolConfig(opts)
	desc := cfg.descriptor(name, reflectToMCPInputSchema[A](cfg.allowAdditionalProperties))

	handler := func(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		var a A
		if err := decodeArguments(req.Arguments, &a, desc.InputSchema); err != nil {
			return Errorf("Invalid arguments: %v", err), nil
		}
		w := newToolResponseWriter(ctx)
		if err := invoke(func() error { return fn(ctx, w, &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: a}) }); err != nil {
			return errorResult(ctx, err)
		}
		return w.Result(), nil
	}
	return StaticTool{Descriptor: desc, Handler: handler}
}

// NewToolWithOutput is NewTool for tools that also return a typed
// structuredContent value of type O.
func NewToolWithOutput[A, O any](name string, fn func(ctx context.Context, w ToolResponseWriterTyped[O], r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := newToolConfig(opts)
	desc := cfg.descriptor(name, reflectToMCPInputSchema[A](cfg.allowAdditionalProperties))
	out := reflectToMCPOutputSchema[O]()
	desc.OutputSchema = &out

	handler := func(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		var a A
		if err := decodeArguments(req.Arguments, &a, desc.InputSchema); err != nil {
			return Errorf("Invalid arguments: %v", err), nil
		}
		tw := &toolResponseWriterTyped[O]{toolResponseWriter: newToolResponseWriter(ctx)}
		if err := invoke(func() error { return fn(ctx, tw, &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: a}) }); err != nil {
			return errorResult(ctx, err)
		}
		res := tw.Result()
		tw.mu.Lock()
		structured := tw.structured
		tw.mu.Unlock()
		if structured != nil && !res.IsError {
			m, err := toObject(*structured)
			if err != nil {
				return nil, fmt.Errorf("encode structured content of %s: %w", name, err)
			}
			res.StructuredContent = m
		}
		return res, nil
	}
	return StaticTool{Descriptor: desc, Handler: handler}
}

func newToolConfig(opts []ToolOption) toolConfig {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c toolConfig) descriptor(name string, input mcp.ToolInputSchema) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Title:       c.title,
		Description: c.description,
		InputSchema: input,
		Annotations: c.annotations,
	}
}

// ErrToolPanicked is what the client sees when a tool handler panics.
var ErrToolPanicked = errors.New("internal error")

// invoke runs fn, converting a panic into ErrToolPanicked so the call is
// answered with an error result.
func invoke(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = ErrToolPanicked
		}
	}()
	return fn()
}

// errorResult turns a handler error into an error result. Cancellation is
// still a protocol-level failure.
func errorResult(ctx context.Context, err error) (*mcp.CallToolResult, error) {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return nil, err
	}
	return Errorf("%s", err.Error()), nil
}

// decodeArguments decodes raw into dst, rejecting unknown fields unless the
// schema allows them and reporting missing required properties.
func decodeArguments(raw json.RawMessage, dst any, schema mcp.ToolInputSchema) error {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		raw = json.RawMessage("{}")
	}
	var present map[string]json.RawMessage
	if err := json.Unmarshal(raw, &present); err != nil {
		return fmt.Errorf("arguments must be an object")
	}
	for _, name := range schema.Required {
		if v, ok := present[name]; !ok || string(v) == "null" {
			return fmt.Errorf("missing required property %q", name)
		}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if !schema.AdditionalProperties {
		dec.DisallowUnknownFields()
	}
	return dec.Decode(dst)
}

func toObject(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// reflectToMCPInputSchema reflects A into the simplified MCP input schema.
func reflectToMCPInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}
	}
	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           toMCPProperties(s),
		Required:             append([]string(nil), s.Required...),
		AdditionalProperties: allowAdditional,
	}
}

// reflectToMCPOutputSchema reflects O into an object output schema.
func reflectToMCPOutputSchema[O any]() mcp.ToolOutputSchema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(O))
	if s == nil || s.Type != "object" {
		return mcp.ToolOutputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{}}
	}
	return mcp.ToolOutputSchema{
		Type:       "object",
		Properties: toMCPProperties(s),
		Required:   append([]string(nil), s.Required...),
	}
}

func toMCPProperties(s *jsonschema.Schema) map[string]mcp.SchemaProperty {
	props := make(map[string]mcp.SchemaProperty)
	if s.Properties == nil {
		return props
	}
	for el := s.Properties.Oldest(); el != nil; el = el.Next() {
		props[el.Key] = toMCPProperty(el.Value)
	}
	return props
}

// toMCPProperty recursively maps a jsonschema.Schema to a SchemaProperty.
func toMCPProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
		Default:     s.Default,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if f, err := s.Minimum.Float64(); s.Minimum != "" && err == nil {
		p.Minimum = &f
	}
	if f, err := s.Maximum.Float64(); s.Maximum != "" && err == nil {
		p.Maximum = &f
	}
	if s.Type == "array" && s.Items != nil {
		item := toMCPProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		p.Properties = toMCPProperties(s)
	}
	return p
}

// ToolsContainer is the fixed tool set of a session.
type ToolsContainer struct {
	tools    []mcp.Tool
	handlers map[string]ToolHandler
	pageSize int
}

// NewToolsContainer registers defs in order. A later definition with a
// duplicate name replaces the handler but keeps the first descriptor slot.
func NewToolsContainer(defs ...StaticTool) *ToolsContainer {
	c := &ToolsContainer{
		handlers: make(map[string]ToolHandler, len(defs)),
		pageSize: DefaultPageSize,
	}
	for _, d := range defs {
		if _, dup := c.handlers[d.Descriptor.Name]; !dup {
			c.tools = append(c.tools, d.Descriptor)
		}
		c.handlers[d.Descriptor.Name] = d.Handler
	}
	return c
}

// Snapshot returns a copy of the tool descriptors.
func (c *ToolsContainer) Snapshot() []mcp.Tool {
	return append([]mcp.Tool(nil), c.tools...)
}

// ListTools returns one page of descriptors.
func (c *ToolsContainer) ListTools(_ context.Context, cursor string) Page[mcp.Tool] {
	return paginate(c.tools, cursor, c.pageSize)
}

// ErrToolNotFound is returned by Call for unknown tool names.
var ErrToolNotFound = errors.New("tool not found")

// Call dispatches req to the named tool.
func (c *ToolsContainer) Call(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("invalid tool request: missing name")
	}
	h := c.handlers[req.Name]
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, req.Name)
	}
	return h(ctx, req)
}

// TextResult builds a single-block text result.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: s}}}
}

// Errorf builds a text result with IsError set.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: msg}}, IsError: true}
}
