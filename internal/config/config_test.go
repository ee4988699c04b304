package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrDefault_MissingFileReturnsDefault(t *testing.T) {
	cfg := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if cfg.Server.ListenAddr != "127.0.0.1:7777" {
		t.Errorf("expected default listen addr, got %q", cfg.Server.ListenAddr)
	}
}

func TestLoad_OverridesLayerOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlBody := "server:\n  listen_addr: \"0.0.0.0:9000\"\ndiscovery:\n  claude_root: \"/custom/claude\"\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("listen addr = %q, want override", cfg.Server.ListenAddr)
	}
	if cfg.Discovery.ClaudeRoot != "/custom/claude" {
		t.Errorf("claude root = %q, want override", cfg.Discovery.ClaudeRoot)
	}
	if cfg.Server.MaxSubscribers != 64 {
		t.Errorf("expected unset fields to keep default, got %d", cfg.Server.MaxSubscribers)
	}
}

func TestPriceTable_OverrideWinsOverDefault(t *testing.T) {
	cfg := defaultConfig()
	cfg.Risk.Prices = map[string]ModelPrice{
		"claude-opus": {InputPerMTok: 1.23},
	}
	table := cfg.PriceTable()
	if table["claude-opus"].InputPerMTok != 1.23 {
		t.Errorf("expected override price, got %+v", table["claude-opus"])
	}
	if _, ok := table["claude-sonnet"]; !ok {
		t.Errorf("expected default prefixes to survive layering")
	}
}
