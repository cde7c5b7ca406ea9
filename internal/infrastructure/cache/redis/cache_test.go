package redis

import (
	"testing"
	"time"
)

func TestNewRejectsMalformedURL(t *testing.T) {
	if _, err := New("not a url", time.Minute); err == nil {
		t.Fatalf("expected error for malformed redis url")
	}
}

func TestNewAppliesDefaultTTL(t *testing.T) {
	cache, err := New("redis://localhost:6379/0", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cache.Close()
	if cache.ttl != 15*time.Minute {
		t.Fatalf("expected default ttl 15m, got %v", cache.ttl)
	}
}
