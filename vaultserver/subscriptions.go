package vaultserver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/mcp-vault-server/access"
	"github.com/ggoodman/mcp-vault-server/mcp"
	"github.com/ggoodman/mcp-vault-server/mcpservice"
	"github.com/ggoodman/mcp-vault-server/vault"
)

// notifyTimeout bounds one notification to one session.
const notifyTimeout = 5 * time.Second

type subscriber struct {
	notifier  mcpservice.Notifier
	resources *mcpservice.ResourcesContainer
}

// Subscriptions forwards vault changes to the registered sessions. A
// modified note is announced with notifications/resources/updated to the
// sessions subscribed to its URI; anything that changes the set of
// resources is announced with notifications/resources/list_changed to every
// registered session. Changes under blocked paths are not announced.
type Subscriptions struct {
	rules *access.Rules
	log   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]subscriber
}

// NewSubscriptions returns an empty set filtered by rules.
func NewSubscriptions(rules *access.Rules, log *slog.Logger) *Subscriptions {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Subscriptions{rules: rules, log: log, sessions: make(map[string]subscriber)}
}

// Register adds session id.
func (s *Subscriptions) Register(id string, n mcpservice.Notifier, res *mcpservice.ResourcesContainer) {
	s.mu.Lock()
	s.sessions[id] = subscriber{notifier: n, resources: res}
	s.mu.Unlock()
}

// Unregister drops session id. Unknown ids are ignored.
func (s *Subscriptions) Unregister(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Len returns the number of registered sessions.
func (s *Subscriptions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Handle delivers ev. It is the callback handed to vault.Watcher.Subscribe.
func (s *Subscriptions) Handle(ev vault.Event) {
	if !s.rules.IsPathAllowed(ev.Path) {
		if ev.Kind != vault.Renamed || ev.OldPath == "" || !s.rules.IsPathAllowed(ev.OldPath) {
			return
		}
	}

	s.mu.RLock()
	targets := make(map[string]subscriber, len(s.sessions))
	for id, sub := range s.sessions {
		targets[id] = sub
	}
	s.mu.RUnlock()

	switch ev.Kind {
	case vault.Modified:
		uri := NoteURI(ev.Path)
		for id, sub := range targets {
			if sub.resources.Subscribed(uri) {
				s.notify(id, sub, mcp.ResourcesUpdatedNotificationMethod, mcp.ResourceUpdatedNotification{URI: uri})
			}
		}
	case vault.Created, vault.Deleted, vault.Renamed:
		for id, sub := range targets {
			s.notify(id, sub, mcp.ResourcesListChangedNotificationMethod, struct{}{})
		}
	}
}

func (s *Subscriptions) notify(id string, sub subscriber, method mcp.Method, params any) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := sub.notifier.Notify(ctx, method, params); err != nil {
		s.log.Debug("subscriptions.notify.fail",
			slog.String("session_id", id),
			slog.String("method", string(method)),
			slog.String("err", err.Error()),
		)
	}
}
