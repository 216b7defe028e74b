package hostsfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "blocklist.txt")
	content := "# ad and tracking hosts\n" +
		"127.0.0.1 localhost ads.example\n" +
		"0.0.0.0 tracker.example another.example # trailing comment\n" +
		"   \n" +
		"0.0.0.0\n"
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	bl, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, want := range []string{"ads.example", "tracker.example", "another.example"} {
		if !bl.Blocked(want) {
			t.Errorf("expected %q to be blocked", want)
		}
	}
	if bl.Blocked("localhost") {
		t.Errorf("localhost must never be blocked")
	}
	if bl.Blocked("example.com") {
		t.Errorf("example.com should not be blocked")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/blocklist.txt"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
