package cachestore

import (
	"testing"
	"time"

	"github.com/lattice-ai/inference-gateway/providers"
)

func TestMemoryGetSetAndTTL(t *testing.T) {
	m := NewMemory(10)
	data := &Data{ModelName: "gpt", ProviderName: "openai", Output: []providers.ContentBlock{providers.Text{Kind: providers.TextKindString, String: "hi"}}}

	m.Set("k1", data, 20*time.Millisecond)
	if _, ok := m.Get("k1"); !ok {
		t.Fatal("expected hit immediately after Set")
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := m.Get("k1"); ok {
		t.Fatal("expected miss after TTL expiry")
	}
}

func TestMemoryEvictsLRU(t *testing.T) {
	m := NewMemory(2)
	data := &Data{}

	m.Set("a", data, time.Minute)
	m.Set("b", data, time.Minute)
	m.Get("a") // touch a, making b the LRU entry
	m.Set("c", data, time.Minute)

	if _, ok := m.Get("b"); ok {
		t.Fatal("expected b to be evicted as least-recently-used")
	}
	if _, ok := m.Get("a"); !ok {
		t.Fatal("expected a to survive eviction")
	}
	if _, ok := m.Get("c"); !ok {
		t.Fatal("expected c to be present")
	}
}
