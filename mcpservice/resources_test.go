package mcpservice

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ggoodman/mcp-vault-server/mcp"
)

func newTestResources(t *testing.T) *ResourcesContainer {
	t.Helper()
	notes := TemplateResource{
		Descriptor: mcp.ResourceTemplate{URITemplate: "vault://notes/{path}", Name: "note"},
		List: func(context.Context) ([]mcp.Resource, error) {
			return []mcp.Resource{{URI: "vault://notes/a.md", Name: "a.md"}}, nil
		},
		Read: func(_ context.Context, uri string, vars TemplateVars) ([]mcp.ResourceContents, error) {
			return []mcp.ResourceContents{{URI: uri, Text: "note " + vars["path"]}}, nil
		},
		Complete: map[string]Completer{
			"path": func(_ context.Context, value string) ([]string, error) {
				var out []string
				for _, p := range []string{"Alpha.md", "Beta.md", "alpine/x.md"} {
					if strings.HasPrefix(strings.ToLower(p), strings.ToLower(value)) {
						out = append(out, p)
					}
				}
				return out, nil
			},
		},
	}
	overview := StaticResource{
		Descriptor: mcp.Resource{URI: "vault://overview", Name: "overview"},
		Read: func(_ context.Context, uri string) ([]mcp.ResourceContents, error) {
			return []mcp.ResourceContents{{URI: uri, Text: "{}"}}, nil
		},
	}
	c, err := NewResourcesContainer([]TemplateResource{notes}, WithStaticResources(overview), WithSubscriptions(true))
	if err != nil {
		t.Fatalf("new resources: %v", err)
	}
	return c
}

func TestResourcesListAndRead(t *testing.T) {
	c := newTestResources(t)
	ctx := context.Background()

	page, err := c.ListResources(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].URI != "vault://overview" || page.Items[1].URI != "vault://notes/a.md" {
		t.Fatalf("unexpected listing %+v", page.Items)
	}

	contents, err := c.ReadResource(ctx, "vault://notes/Folder%2FMy%20Note.md")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if want, got := "note Folder/My Note.md", contents[0].Text; want != got {
		t.Fatalf("expected %q, got %q", want, got)
	}

	if _, err := c.ReadResource(ctx, "vault://elsewhere/x"); !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
	if _, err := c.ReadResource(ctx, "vault://notes/"); !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("expected empty variable to not match, got %v", err)
	}
}

func TestResourcesComplete(t *testing.T) {
	c := newTestResources(t)
	got, err := c.Complete(context.Background(), "vault://notes/{path}", mcp.CompleteArgument{Name: "path", Value: "al"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(got.Values) != 2 || got.Values[0] != "Alpha.md" || got.Values[1] != "alpine/x.md" {
		t.Fatalf("unexpected completion %+v", got)
	}

	got, _ = c.Complete(context.Background(), "vault://notes/{path}", mcp.CompleteArgument{Name: "other", Value: ""})
	if got.Values == nil || len(got.Values) != 0 {
		t.Fatalf("expected empty non-nil values, got %+v", got)
	}
}

func TestResourcesSubscriptions(t *testing.T) {
	c := newTestResources(t)
	uri := "vault://notes/a.md"
	if c.Subscribed(uri) {
		t.Fatalf("expected no subscription yet")
	}
	c.Subscribe(uri)
	if !c.Subscribed(uri) {
		t.Fatalf("expected subscription")
	}
	c.Unsubscribe(uri)
	if c.Subscribed(uri) {
		t.Fatalf("expected subscription to be removed")
	}
}

func TestNewResourcesContainerRejectsBadTemplate(t *testing.T) {
	_, err := NewResourcesContainer([]TemplateResource{{Descriptor: mcp.ResourceTemplate{URITemplate: "vault://{unclosed"}}})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestServerCapabilities(t *testing.T) {
	srv := NewServer(
		WithResources(newTestResources(t)),
		WithPrompts(NewPromptsContainer()),
		WithSessionLogger(NewSessionLogger(nil)),
	)
	caps := srv.Capabilities()
	if caps.Tools == nil {
		t.Fatalf("expected tools capability")
	}
	if caps.Prompts != nil {
		t.Fatalf("expected empty prompt set to hide the capability")
	}
	if caps.Resources == nil || !caps.Resources.Subscribe || !caps.Resources.ListChanged {
		t.Fatalf("unexpected resources capability %+v", caps.Resources)
	}
	if caps.Completions == nil || caps.Logging == nil {
		t.Fatalf("expected completions and logging capabilities")
	}
}
