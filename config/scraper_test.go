package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadScraperFileDefaults(t *testing.T) {
	f, err := LoadScraperFile("")
	if err != nil {
		t.Fatalf("LoadScraperFile(\"\"): %v", err)
	}
	if len(f.Identities) != 4 {
		t.Errorf("identities: got %d, want 4", len(f.Identities))
	}
	if f.Selectors.Card == "" {
		t.Error("default card selector should not be empty")
	}
}

func TestLoadScraperFileMergesSelectors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraper.yaml")
	doc := `
identities:
  - user_agent: "TestAgent/1.0"
    profile: "/tmp/profile-a"
selectors:
  card: "li.result"
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := LoadScraperFile(path)
	if err != nil {
		t.Fatalf("LoadScraperFile: %v", err)
	}
	if len(f.Identities) != 1 || f.Identities[0].Profile != "/tmp/profile-a" {
		t.Errorf("identities: got %+v", f.Identities)
	}
	if f.Selectors.Card != "li.result" {
		t.Errorf("card selector: got %q, want %q", f.Selectors.Card, "li.result")
	}
	if f.Selectors.Price != DefaultScraperFile().Selectors.Price {
		t.Errorf("price selector should fall back to default, got %q", f.Selectors.Price)
	}
}

func TestLoadScraperFileRejectsBlankAgent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraper.yaml")
	if err := os.WriteFile(path, []byte("identities:\n  - profile: x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadScraperFile(path); err == nil {
		t.Error("expected error for identity without user_agent")
	}
}

func TestNormaliseClampsValues(t *testing.T) {
	c := &Config{WaitMinSec: 9, WaitMaxSec: 3, JobTimeoutSec: 0, MaxRetries: 0, ScrapeHour: 23}
	c.normalise()
	if c.WaitMaxSec != 9 {
		t.Errorf("WaitMaxSec: got %d, want 9", c.WaitMaxSec)
	}
	if c.JobTimeoutSec != 180 {
		t.Errorf("JobTimeoutSec: got %d, want 180", c.JobTimeoutSec)
	}
	if c.MaxRetries != 1 {
		t.Errorf("MaxRetries: got %d, want 1", c.MaxRetries)
	}
	if c.ScrapeHour != 6 || c.AnalyzeHour() != 7 {
		t.Errorf("hours: got %d/%d, want 6/7", c.ScrapeHour, c.AnalyzeHour())
	}
}
