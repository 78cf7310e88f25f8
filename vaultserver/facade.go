// Package vaultserver assembles the per-session MCP server for a vault.
//
// A Facade is built once per process. Bind is called once per session at
// bootstrap and returns the immutable capability set that session talks to:
// the vault tools, the format guides, the vault:// resources and the
// initial instructions. The access rules current at bind time are captured
// by pointer, so a later Reload of the rules applies to every session.
package vaultserver

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/mcp-vault-server/access"
	"github.com/ggoodman/mcp-vault-server/config"
	"github.com/ggoodman/mcp-vault-server/mcp"
	"github.com/ggoodman/mcp-vault-server/mcpservice"
	"github.com/ggoodman/mcp-vault-server/tools"
	"github.com/ggoodman/mcp-vault-server/usage"
	"github.com/ggoodman/mcp-vault-server/vault"
)

// ServerName is advertised in the initialize response.
const ServerName = "vault-mcp-server"

// Option configures a Facade.
type Option func(*Facade)

// WithTracker counts every tool call.
func WithTracker(t *usage.Tracker) Option {
	return func(f *Facade) { f.tracker = t }
}

// WithSessions backs list_sessions.
func WithSessions(s tools.SessionLister) Option {
	return func(f *Facade) { f.sessions = s }
}

// WithSettings sets the initial user settings.
func WithSettings(s config.Settings) Option {
	return func(f *Facade) { f.settings = s.Sanitize() }
}

// WithSubscriptions forwards vault changes to sessions that bind while
// resource subscriptions are enabled.
func WithSubscriptions(s *Subscriptions) Option {
	return func(f *Facade) { f.subs = s }
}

// WithVersion sets the advertised server version.
func WithVersion(v string) Option {
	return func(f *Facade) { f.version = v }
}

// WithLogLevel lets logging/setLevel adjust the process log level too.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(f *Facade) { f.levelVar = lv }
}

// WithClock replaces time.Now for daily notes and completions.
func WithClock(now func() time.Time) Option {
	return func(f *Facade) { f.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(f *Facade) { f.log = log }
}

// Facade binds sessions to the vault.
type Facade struct {
	vault    vault.Store
	rules    *access.Rules
	tracker  *usage.Tracker
	sessions tools.SessionLister
	subs     *Subscriptions
	version  string
	levelVar *slog.LevelVar
	now      func() time.Time
	log      *slog.Logger

	mu       sync.RWMutex
	settings config.Settings
}

// New returns a Facade over store guarded by rules.
func New(store vault.Store, rules *access.Rules, opts ...Option) *Facade {
	f := &Facade{
		vault:    store,
		rules:    rules,
		version:  "dev",
		now:      time.Now,
		log:      slog.New(slog.DiscardHandler),
		settings: config.DefaultSettings(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Settings returns the settings new sessions are bound with.
func (f *Facade) Settings() config.Settings {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.settings
}

// SetSettings replaces the settings for sessions bound from now on. Live
// sessions keep what they were bound with.
func (f *Facade) SetSettings(s config.Settings) {
	f.mu.Lock()
	f.settings = s.Sanitize()
	f.mu.Unlock()
}

// Bind builds the server for session id. Notifications for the session,
// log messages and resource changes alike, go through n.
func (f *Facade) Bind(id string, n mcpservice.Notifier) (*mcpservice.Server, error) {
	settings := f.Settings()

	logOpts := []mcpservice.SessionLoggerOption{mcpservice.WithSessionLoggerLogger(f.log)}
	if f.levelVar != nil {
		logOpts = append(logOpts, mcpservice.WithLevelVar(f.levelVar))
	}
	logger := mcpservice.NewSessionLogger(n, logOpts...)

	env := &tools.Env{
		Vault:            f.vault,
		Rules:            f.rules,
		Tracker:          f.tracker,
		Sessions:         f.sessions,
		Log:              logger,
		SessionID:        id,
		SmartAnnotations: settings.EnableSmartAnnotations,
		Now:              f.now,
	}

	opts := []mcpservice.ServerOption{
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: ServerName, Version: f.version}),
		mcpservice.WithTools(mcpservice.NewToolsContainer(tools.All(env)...)),
		mcpservice.WithSessionLogger(logger),
	}
	if instr := BuildInstructions(f.vault, f.rules, settings); instr != "" {
		opts = append(opts, mcpservice.WithInstructions(instr))
	}
	if prompts := Prompts(settings); len(prompts) > 0 {
		opts = append(opts, mcpservice.WithPrompts(mcpservice.NewPromptsContainer(prompts...)))
	}

	var resources *mcpservice.ResourcesContainer
	if settings.EnableResources {
		var err error
		resources, err = f.resources(env, settings)
		if err != nil {
			return nil, fmt.Errorf("build resources: %w", err)
		}
		opts = append(opts, mcpservice.WithResources(resources))
	}

	srv := mcpservice.NewServer(opts...)
	if resources != nil && resources.SubscriptionsEnabled() && f.subs != nil {
		f.subs.Register(id, n, resources)
	}
	f.log.Debug("facade.bind.ok",
		slog.String("session_id", id),
		slog.Bool("resources", resources != nil),
	)
	return srv, nil
}

// Release forgets session id. It is registered as a session close hook.
func (f *Facade) Release(id string) {
	if f.subs != nil {
		f.subs.Unregister(id)
	}
}

// BuildInstructions returns the initial instructions for a session, or ""
// when they are disabled.
func BuildInstructions(store vault.Store, rules *access.Rules, s config.Settings) string {
	if !s.EnableInstructions {
		return ""
	}
	sections := []string{
		fmt.Sprintf("You are connected to the note vault %q via the vault MCP server.", store.Name()),
		strings.Join([]string{
			"Markdown Basics:",
			"- Internal links: [[Page Name]] or [[Page Name|Display Text]]",
			"- Embeds: ![[Page Name]] or ![[image.png]]",
			"- Tags: #tag or nested #tag/subtag (also in frontmatter as tags: [tag1, tag2])",
			"- Frontmatter: YAML block between --- at the top of a note",
			"- Callouts: > [!type] Title followed by content",
			"- Headings: # to ###### for levels 1-6",
		}, "\n"),
		strings.Join([]string{
			"Tool Usage Guidelines:",
			"- Always read a note before editing it to avoid overwriting content.",
			`- Respect "Access denied" responses and do not retry denied paths.`,
			"- Use search_notes or search_content to discover notes before reading them.",
			"- Prefer get_note_metadata over read_note when you only need structure info.",
			"- Use list_all_tags to understand the vault's tagging taxonomy.",
		}, "\n"),
	}
	if s.IncludeVaultStructure {
		if folders := topFolders(store, rules); len(folders) > 0 {
			sections = append(sections, "Top-level folders: "+strings.Join(folders, ", "))
		}
	}
	if custom := strings.TrimSpace(s.CustomInstructions); custom != "" {
		sections = append(sections, "Custom Instructions:\n"+custom)
	}
	return strings.Join(sections, "\n\n")
}

// topFolders lists the visible folders at the vault root, sorted.
func topFolders(store vault.Store, rules *access.Rules) []string {
	children, err := store.ListChildren("")
	if err != nil {
		return nil
	}
	var out []string
	for _, c := range children {
		if c.IsDir && rules.IsPathAllowed(c.Path) {
			out = append(out, c.Name)
		}
	}
	sort.Strings(out)
	return out
}
