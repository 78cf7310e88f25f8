package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Default values for user settings.
const (
	DefaultPort               = 27123
	DefaultListenAddress      = "127.0.0.1"
	DefaultBlacklist          = "Secret/\n#secret"
	DefaultMaxResourcesListed = 500
)

var validListenAddresses = []string{"127.0.0.1", "0.0.0.0"}

// Settings are the user-maintained preferences persisted with the usage
// ledger. JSON names match the documents written by earlier releases.
type Settings struct {
	Port          int    `json:"port"`
	ListenAddress string `json:"listenAddress"`
	AuthToken     string `json:"authToken"`
	Blacklist     string `json:"blacklist"`

	EnableInstructions    bool   `json:"enableInstructions"`
	CustomInstructions    string `json:"customInstructions"`
	IncludeVaultStructure bool   `json:"includeVaultStructure"`

	EnablePrompts       bool `json:"enablePrompts"`
	EnableMarkdownGuide bool `json:"enableMarkdownGuide"`
	EnableCanvasGuide   bool `json:"enableCanvasGuide"`
	EnableBasesGuide    bool `json:"enableBasesGuide"`

	EnableResources             bool `json:"enableResources"`
	EnableResourceSubscriptions bool `json:"enableResourceSubscriptions"`
	MaxResourcesListed          int  `json:"maxResourcesListed"`

	EnableSmartAnnotations bool `json:"enableSmartAnnotations"`
}

// DefaultSettings returns the settings a fresh install starts with.
func DefaultSettings() Settings {
	return Settings{
		Port:                        DefaultPort,
		ListenAddress:               DefaultListenAddress,
		Blacklist:                   DefaultBlacklist,
		EnableInstructions:          true,
		IncludeVaultStructure:       true,
		EnablePrompts:               true,
		EnableMarkdownGuide:         true,
		EnableCanvasGuide:           true,
		EnableBasesGuide:            true,
		EnableResources:             true,
		EnableResourceSubscriptions: true,
		MaxResourcesListed:          DefaultMaxResourcesListed,
		EnableSmartAnnotations:      true,
	}
}

// Sanitize replaces out-of-range values with defaults: ports outside
// 1024-65535, listen addresses other than loopback or any, and a
// non-positive resource listing cap.
func (s Settings) Sanitize() Settings {
	if s.Port < 1024 || s.Port > 65535 {
		s.Port = DefaultPort
	}
	valid := false
	for _, a := range validListenAddresses {
		if s.ListenAddress == a {
			valid = true
			break
		}
	}
	if !valid {
		s.ListenAddress = DefaultListenAddress
	}
	if s.MaxResourcesListed <= 0 {
		s.MaxResourcesListed = DefaultMaxResourcesListed
	}
	return s
}

// Addr returns the host:port the gateway listens on.
func (s Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.ListenAddress, s.Port)
}

// GenerateToken returns 16 random bytes hex encoded.
func GenerateToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate auth token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// EnsureToken fills in a generated auth token when none is configured and
// reports whether it did.
func (s *Settings) EnsureToken() (bool, error) {
	if s.AuthToken != "" {
		return false, nil
	}
	tok, err := GenerateToken()
	if err != nil {
		return false, err
	}
	s.AuthToken = tok
	return true, nil
}
