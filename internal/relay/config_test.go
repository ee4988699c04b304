package relay

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ReEncryptsPlaintextToken(t *testing.T) {
	dir := t.TempDir()
	codec, err := NewCodec(filepath.Join(dir, "relay.key"))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	path := filepath.Join(dir, "relay.json")
	raw := `{"targets":[{"pylonId":"p1","pylonName":"laptop","wsUrl":"wss://example/ws","token":"plain-token","projects":["/home/me/proj"]}]}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, codec)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Targets) != 1 {
		t.Fatalf("expected 1 target, got %d", len(cfg.Targets))
	}
	tok, err := cfg.Targets[0].DecryptToken(codec)
	if err != nil || tok != "plain-token" {
		t.Fatalf("expected decrypted token %q, got %q (err %v)", "plain-token", tok, err)
	}

	// The on-disk copy should now carry tokenEnc, not the plaintext.
	data, _ := os.ReadFile(path)
	var onDisk Config
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("re-read: %v", err)
	}
	if onDisk.Targets[0].Token != "" {
		t.Error("expected plaintext token to be cleared on disk after re-save")
	}
	if onDisk.Targets[0].TokenEnc == "" {
		t.Error("expected tokenEnc to be populated on disk after re-save")
	}
}

func TestLoad_MissingFileIsEmptyConfig(t *testing.T) {
	dir := t.TempDir()
	codec, _ := NewCodec(filepath.Join(dir, "relay.key"))
	cfg, err := Load(filepath.Join(dir, "missing.json"), codec)
	if err != nil {
		t.Fatalf("expected no error for missing config, got %v", err)
	}
	if len(cfg.Targets) != 0 {
		t.Fatalf("expected empty target list, got %d", len(cfg.Targets))
	}
}
