package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.drift/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	Store     StoreConfig     `toml:"store"`
	Outbox    OutboxConfig    `toml:"outbox"`
	Handshake HandshakeConfig `toml:"handshake"`
	Transport TransportConfig `toml:"transport"`
}

// StoreConfig holds per-collection capacity limits.
type StoreConfig struct {
	// MessagesPerChat caps stored messages per conversation.
	MessagesPerChat int `toml:"messages_per_chat"`
	// Contacts caps the contact list, FIFO by added_at.
	Contacts int `toml:"contacts"`
	// Tickets caps the match-ticket ledger, FIFO by created_at.
	Tickets int `toml:"tickets"`
}

// OutboxConfig holds retry scheduler tunables.
type OutboxConfig struct {
	BaseDelaySeconds int `toml:"base_delay_seconds"`
	MaxDelaySeconds  int `toml:"max_delay_seconds"`
	MaxAttempts      int `toml:"max_attempts"`
	// PerRecipient caps outstanding entries per recipient.
	PerRecipient int `toml:"per_recipient"`
	// Workers bounds concurrent send attempts.
	Workers int `toml:"workers"`
	// TickSeconds is the scheduler wake interval.
	TickSeconds int `toml:"tick_seconds"`
}

// HandshakeConfig holds duplicate-suppression tunables.
type HandshakeConfig struct {
	DebounceSeconds int `toml:"debounce_seconds"`
}

// TransportConfig holds the QUIC listener address and the static peer
// address book (identity -> host:port). Peer discovery is out of scope.
type TransportConfig struct {
	ListenAddr string            `toml:"listen_addr"`
	Peers      map[string]string `toml:"peers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Store: StoreConfig{
			MessagesPerChat: 500,
			Contacts:        1000,
			Tickets:         200,
		},
		Outbox: OutboxConfig{
			BaseDelaySeconds: 5,
			MaxDelaySeconds:  1800,
			MaxAttempts:      10,
			PerRecipient:     100,
			Workers:          8,
			TickSeconds:      5,
		},
		Handshake: HandshakeConfig{
			DebounceSeconds: 30,
		},
		Transport: TransportConfig{
			ListenAddr: "0.0.0.0:7420",
		},
	}
}

// Load reads config from the given path, filling unset fields with defaults.
// Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	cfg.fillZero()
	return cfg, nil
}

// LoadOrDefault reads config from path, falling back to Default when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// fillZero restores defaults for fields an explicit config left at zero,
// so a partial config file cannot disable a capacity bound.
func (c *Config) fillZero() {
	d := Default()
	if c.Store.MessagesPerChat <= 0 {
		c.Store.MessagesPerChat = d.Store.MessagesPerChat
	}
	if c.Store.Contacts <= 0 {
		c.Store.Contacts = d.Store.Contacts
	}
	if c.Store.Tickets <= 0 {
		c.Store.Tickets = d.Store.Tickets
	}
	if c.Outbox.BaseDelaySeconds <= 0 {
		c.Outbox.BaseDelaySeconds = d.Outbox.BaseDelaySeconds
	}
	if c.Outbox.MaxDelaySeconds <= 0 {
		c.Outbox.MaxDelaySeconds = d.Outbox.MaxDelaySeconds
	}
	if c.Outbox.MaxAttempts <= 0 {
		c.Outbox.MaxAttempts = d.Outbox.MaxAttempts
	}
	if c.Outbox.PerRecipient <= 0 {
		c.Outbox.PerRecipient = d.Outbox.PerRecipient
	}
	if c.Outbox.Workers <= 0 {
		c.Outbox.Workers = d.Outbox.Workers
	}
	if c.Outbox.TickSeconds <= 0 {
		c.Outbox.TickSeconds = d.Outbox.TickSeconds
	}
	if c.Handshake.DebounceSeconds <= 0 {
		c.Handshake.DebounceSeconds = d.Handshake.DebounceSeconds
	}
	if c.Transport.ListenAddr == "" {
		c.Transport.ListenAddr = d.Transport.ListenAddr
	}
}
