package mcpservice

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ggoodman/mcp-vault-server/mcp"
	"github.com/yosida95/uritemplate/v3"
)

// ErrResourceNotFound is returned when no static resource or template
// matches a URI.
var ErrResourceNotFound = errors.New("resource not found")

// ResourceReader reads a fixed resource.
type ResourceReader func(ctx context.Context, uri string) ([]mcp.ResourceContents, error)

// StaticResource is a resource with a fixed URI.
type StaticResource struct {
	Descriptor mcp.Resource
	Read       ResourceReader
}

// TemplateVars holds the decoded variables of a matched template URI.
type TemplateVars map[string]string

// Completer proposes values for one template variable given a prefix.
type Completer func(ctx context.Context, value string) ([]string, error)

// TemplateResource is a family of resources addressed by an RFC 6570 URI
// template.
type TemplateResource struct {
	Descriptor mcp.ResourceTemplate
	// List enumerates concrete resources for resources/list. Optional.
	List func(ctx context.Context) ([]mcp.Resource, error)
	// Read serves a URI matching the template.
	Read func(ctx context.Context, uri string, vars TemplateVars) ([]mcp.ResourceContents, error)
	// Complete maps variable names to completers. Optional.
	Complete map[string]Completer
}

type compiledTemplate struct {
	TemplateResource
	tmpl *uritemplate.Template
}

// ResourcesContainer is the fixed resource set of a session plus the URIs
// the session subscribed to.
type ResourcesContainer struct {
	static    []StaticResource
	templates []compiledTemplate
	subscribe bool
	pageSize  int

	mu   sync.Mutex
	subs map[string]struct{}
}

// ResourcesOption configures a ResourcesContainer.
type ResourcesOption func(*ResourcesContainer)

// WithStaticResources adds fixed resources.
func WithStaticResources(res ...StaticResource) ResourcesOption {
	return func(c *ResourcesContainer) { c.static = append(c.static, res...) }
}

// WithSubscriptions advertises resources/subscribe support.
func WithSubscriptions(enabled bool) ResourcesOption {
	return func(c *ResourcesContainer) { c.subscribe = enabled }
}

// NewResourcesContainer compiles the templates and applies opts. It fails
// when a template is not a valid URI template.
func NewResourcesContainer(templates []TemplateResource, opts ...ResourcesOption) (*ResourcesContainer, error) {
	c := &ResourcesContainer{
		pageSize: DefaultPageSize,
		subs:     make(map[string]struct{}),
	}
	for _, t := range templates {
		tmpl, err := uritemplate.New(t.Descriptor.URITemplate)
		if err != nil {
			return nil, fmt.Errorf("compile resource template %q: %w", t.Descriptor.URITemplate, err)
		}
		c.templates = append(c.templates, compiledTemplate{TemplateResource: t, tmpl: tmpl})
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SubscriptionsEnabled reports whether resources/subscribe is offered.
func (c *ResourcesContainer) SubscriptionsEnabled() bool { return c.subscribe }

// ListResources returns one page of the static resources followed by each
// template's listing.
func (c *ResourcesContainer) ListResources(ctx context.Context, cursor string) (Page[mcp.Resource], error) {
	all := make([]mcp.Resource, 0, len(c.static))
	for _, r := range c.static {
		all = append(all, r.Descriptor)
	}
	for _, t := range c.templates {
		if t.List == nil {
			continue
		}
		items, err := t.List(ctx)
		if err != nil {
			return Page[mcp.Resource]{}, fmt.Errorf("list %s: %w", t.Descriptor.Name, err)
		}
		all = append(all, items...)
	}
	return paginate(all, cursor, c.pageSize), nil
}

// ListResourceTemplates returns one page of template descriptors.
func (c *ResourcesContainer) ListResourceTemplates(_ context.Context, cursor string) Page[mcp.ResourceTemplate] {
	all := make([]mcp.ResourceTemplate, 0, len(c.templates))
	for _, t := range c.templates {
		all = append(all, t.Descriptor)
	}
	return paginate(all, cursor, c.pageSize)
}

// ReadResource serves uri from the static set first, then the first
// matching template.
func (c *ResourcesContainer) ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	for _, r := range c.static {
		if r.Descriptor.URI == uri {
			return r.Read(ctx, uri)
		}
	}
	for _, t := range c.templates {
		vars, ok := t.match(uri)
		if !ok {
			continue
		}
		return t.Read(ctx, uri, vars)
	}
	return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, uri)
}

func (t compiledTemplate) match(uri string) (TemplateVars, bool) {
	values := t.tmpl.Match(uri)
	if values == nil {
		return nil, false
	}
	vars := make(TemplateVars, len(values))
	for _, name := range t.tmpl.Varnames() {
		v := values.Get(name)
		if !v.Valid() || v.String() == "" {
			return nil, false
		}
		vars[name] = v.String()
	}
	return vars, true
}

// Complete answers completion/complete for a template variable.
func (c *ResourcesContainer) Complete(ctx context.Context, uriTemplate string, arg mcp.CompleteArgument) (mcp.Completion, error) {
	for _, t := range c.templates {
		if t.Descriptor.URITemplate != uriTemplate {
			continue
		}
		fn := t.Complete[arg.Name]
		if fn == nil {
			return mcp.Completion{Values: []string{}}, nil
		}
		values, err := fn(ctx, arg.Value)
		if err != nil {
			return mcp.Completion{}, err
		}
		if values == nil {
			values = []string{}
		}
		return mcp.Completion{Values: values, Total: len(values)}, nil
	}
	return mcp.Completion{Values: []string{}}, nil
}

// HasCompletions reports whether any template offers completion.
func (c *ResourcesContainer) HasCompletions() bool {
	for _, t := range c.templates {
		if len(t.Complete) > 0 {
			return true
		}
	}
	return false
}

// Subscribe records interest in uri.
func (c *ResourcesContainer) Subscribe(uri string) {
	c.mu.Lock()
	c.subs[uri] = struct{}{}
	c.mu.Unlock()
}

// Unsubscribe drops interest in uri.
func (c *ResourcesContainer) Unsubscribe(uri string) {
	c.mu.Lock()
	delete(c.subs, uri)
	c.mu.Unlock()
}

// Subscribed reports whether the session subscribed to uri.
func (c *ResourcesContainer) Subscribed(uri string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[uri]
	return ok
}
