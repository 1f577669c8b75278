package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	c := Default()
	if c.Name != "Butterfly_DB" || c.ServerCount != 4 {
		t.Fatalf("unexpected top-level defaults: %+v", c)
	}
	if c.Network.Port != 6379 || c.Network.BindAddress != "0.0.0.0" {
		t.Fatalf("unexpected network defaults: %+v", c.Network)
	}
	if c.Pool.MaxConnections != 100 || c.Pool.MinConnections != 5 {
		t.Fatalf("unexpected pool defaults: %+v", c.Pool)
	}
	if c.Resource.MaxCPUPercent != 60.0 || c.Resource.MaxRAMUsage != 500.0 {
		t.Fatalf("unexpected resource defaults: %+v", c.Resource)
	}
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if c != Default() {
		t.Fatalf("expected defaults for missing file, got %+v", c)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "butterfly.toml")
	doc := `
name = "test_db"

[network]
port = 7000

[pool]
max_connections = 10
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Name != "test_db" || c.Network.Port != 7000 || c.Pool.MaxConnections != 10 {
		t.Fatalf("unexpected loaded config: %+v", c)
	}
	if c.Resource.MaxCPUPercent != 60.0 {
		t.Fatalf("expected untouched section to keep default: %+v", c.Resource)
	}
}
