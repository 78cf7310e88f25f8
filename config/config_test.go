package config

import (
	"encoding/hex"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VAULT_DIR", "/tmp/vault")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if want, got := "/tmp/vault", cfg.VaultDir; want != got {
		t.Fatalf("expected vault dir %q, got %q", want, got)
	}
	if want, got := StoreFile, cfg.StoreKind; want != got {
		t.Fatalf("expected store kind %q, got %q", want, got)
	}
	if want, got := 30*time.Minute, cfg.SessionTTL; want != got {
		t.Fatalf("expected ttl %v, got %v", want, got)
	}
	if want, got := 10, cfg.MaxSessions; want != got {
		t.Fatalf("expected max sessions %d, got %d", want, got)
	}
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	t.Setenv("STORE_KIND", "etcd")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown store kind")
	}
}

func TestSanitize(t *testing.T) {
	cases := []struct {
		name string
		in   Settings
		port int
		addr string
	}{
		{"keeps valid values", Settings{Port: 8080, ListenAddress: "0.0.0.0"}, 8080, "0.0.0.0"},
		{"privileged port", Settings{Port: 80, ListenAddress: "127.0.0.1"}, DefaultPort, "127.0.0.1"},
		{"port too large", Settings{Port: 70000}, DefaultPort, DefaultListenAddress},
		{"unknown address", Settings{Port: 2000, ListenAddress: "10.0.0.1"}, 2000, DefaultListenAddress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.in.Sanitize()
			if got.Port != tc.port || got.ListenAddress != tc.addr {
				t.Fatalf("expected %d %s, got %d %s", tc.port, tc.addr, got.Port, got.ListenAddress)
			}
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	s := DefaultSettings()
	s.AuthToken = "persisted"
	got := Config{Port: 3000, AuthToken: "env"}.Apply(s)
	if got.Port != 3000 || got.AuthToken != "env" || got.ListenAddress != DefaultListenAddress {
		t.Fatalf("unexpected settings: %+v", got)
	}
}

func TestEnsureToken(t *testing.T) {
	s := DefaultSettings()
	generated, err := s.EnsureToken()
	if err != nil || !generated {
		t.Fatalf("expected a generated token, got %v %v", generated, err)
	}
	b, err := hex.DecodeString(s.AuthToken)
	if err != nil || len(b) != 16 {
		t.Fatalf("expected 16 hex-encoded bytes, got %q", s.AuthToken)
	}
	again, _ := s.EnsureToken()
	if again {
		t.Fatalf("expected existing token to be kept")
	}
}
