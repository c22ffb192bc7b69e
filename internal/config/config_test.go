package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Server.ChannelURL = "wss://chat.example.com/ws"
	cfg.Typing.RemoteExpiry = Duration{7 * time.Second}

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want work", loaded.DefaultSession)
	}
	if loaded.Server.ChannelURL != "wss://chat.example.com/ws" {
		t.Errorf("ChannelURL = %q", loaded.Server.ChannelURL)
	}
	if loaded.Typing.RemoteExpiry.Duration != 7*time.Second {
		t.Errorf("RemoteExpiry = %v, want 7s", loaded.Typing.RemoteExpiry.Duration)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Reconnect.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Reconnect.MaxAttempts)
	}
	if cfg.Cache.TTL.Duration != 24*time.Hour {
		t.Errorf("cache TTL = %v, want 24h", cfg.Cache.TTL.Duration)
	}
	if cfg.Engine.LoadOlderDelay.Duration != 300*time.Millisecond {
		t.Errorf("LoadOlderDelay = %v, want 300ms", cfg.Engine.LoadOlderDelay.Duration)
	}
}
