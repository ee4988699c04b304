package operators

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileReturnsSelfOnly(t *testing.T) {
	roster, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(roster.Order) != 1 || roster.Order[0].Name != "self" {
		t.Fatalf("expected only self operator, got %v", roster.Order)
	}
	if !roster.ByName["self"].IsSelf {
		t.Errorf("expected self operator flagged IsSelf")
	}
}

func TestLoad_AssignsDistinctColorsAndStableIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operators.yaml")
	body := "operators:\n  - name: alice\n    roots: [\"/home/alice/.claude/projects\"]\n  - name: bob\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	roster, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(roster.Order) != 3 {
		t.Fatalf("expected self+2 operators, got %d", len(roster.Order))
	}
	alice := roster.ByName["alice"]
	bob := roster.ByName["bob"]
	if alice.Color == bob.Color {
		t.Errorf("expected distinct colors, both got %q", alice.Color)
	}
	if alice.ID == "" || alice.ID == bob.ID {
		t.Errorf("expected distinct stable ids, got %q and %q", alice.ID, bob.ID)
	}
	if len(roster.Roots["alice"]) != 1 {
		t.Errorf("expected alice's configured root to be preserved, got %v", roster.Roots["alice"])
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if again.ByName["alice"].ID != alice.ID {
		t.Errorf("operator id not stable across loads: %q != %q", again.ByName["alice"].ID, alice.ID)
	}
}
