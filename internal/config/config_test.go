package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "engine.yaml")
	if err := os.WriteFile(p, []byte("filter:\n  enable: true\n  allowed_owners: [1001, 1002]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !c.Filter.Enable {
		t.Fatalf("expected filter enabled")
	}
	if len(c.Filter.AllowedOwners) != 2 {
		t.Fatalf("expected 2 allowed owners, got %d", len(c.Filter.AllowedOwners))
	}
	if c.Timeouts.UDPIdle != DefaultUDPIdle {
		t.Fatalf("expected default udp idle %s, got %s", DefaultUDPIdle, c.Timeouts.UDPIdle)
	}
	if c.PCAP.MaxFile != DefaultMaxPCAPFile {
		t.Fatalf("expected default max pcap file %d, got %d", DefaultMaxPCAPFile, c.PCAP.MaxFile)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "engine.yaml")
	if err := os.WriteFile(p, []byte("timeouts:\n  udp_idle: 5s\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.Timeouts.UDPIdle != 5*time.Second {
		t.Fatalf("expected overridden udp idle 5s, got %s", c.Timeouts.UDPIdle)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/path/engine.yaml"); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
