// Package sessions owns the set of live protocol sessions.
//
// A Session is created when a client bootstraps with an initialize request
// and lives until it is closed explicitly, evicted because the Registry is
// at capacity, or swept after sitting idle longer than the TTL. Each Session
// carries its transport, the client's self-declared identity and a private
// usage ledger.
//
// Lifecycle
//
//	absent --Create--> active --Close / evict / sweep--> closed
//
// All registry mutations are serialized by one mutex, so a sweep can never
// race a Touch into a use-after-close. A closing session disappears from Get
// before its close hooks run; hooks run before the entry is removed; the
// transport is closed last, best-effort.
package sessions
