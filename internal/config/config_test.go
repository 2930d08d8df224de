package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("SEARCH_CACHE_TTL_SECONDS", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.SearchCacheTTLSeconds != 30 {
		t.Fatalf("expected default cache TTL 30, got %d", cfg.SearchCacheTTLSeconds)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
}

func TestLoadRejectsInvalidTTL(t *testing.T) {
	t.Setenv("SEARCH_CACHE_TTL_SECONDS", "-5")

	cfg := Load()
	if cfg.SearchCacheTTLSeconds != 30 {
		t.Fatalf("expected fallback TTL 30 for invalid value, got %d", cfg.SearchCacheTTLSeconds)
	}
}
