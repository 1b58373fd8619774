package bridge

import (
	"testing"

	"github.com/arenabridge/bridge/internal/config"
)

func TestCatalogLookupReturnsSeededEntry(t *testing.T) {
	c := NewCatalog([]config.ModelRegistryEntry{
		{PublicName: "gpt-4", UpstreamID: "upstream-gpt-4", Modality: config.ModalityChat},
	})

	upstreamID, modality, ok := c.Lookup("gpt-4")
	if !ok || upstreamID != "upstream-gpt-4" || modality != "chat" {
		t.Fatalf("unexpected lookup result: %q %q %v", upstreamID, modality, ok)
	}

	if _, _, ok := c.Lookup("unknown-model"); ok {
		t.Fatal("expected unknown model to miss")
	}
}

func TestCatalogReplaceWholesaleSwapsRegistry(t *testing.T) {
	c := NewCatalog([]config.ModelRegistryEntry{
		{PublicName: "old-model", UpstreamID: "old-upstream"},
	})

	count := c.Replace(map[string]interface{}{
		"new-model": map[string]interface{}{"id": "new-upstream", "modality": "image"},
	})
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}

	if _, _, ok := c.Lookup("old-model"); ok {
		t.Fatal("expected old-model to be gone after Replace")
	}
	upstreamID, modality, ok := c.Lookup("new-model")
	if !ok || upstreamID != "new-upstream" || modality != "image" {
		t.Fatalf("unexpected lookup after replace: %q %q %v", upstreamID, modality, ok)
	}
}

func TestCatalogReplaceDefaultsMissingModalityToChat(t *testing.T) {
	c := NewCatalog(nil)
	c.Replace(map[string]interface{}{"m": map[string]interface{}{"id": "u"}})

	_, modality, ok := c.Lookup("m")
	if !ok || modality != "chat" {
		t.Fatalf("expected modality to default to chat, got %q (ok=%v)", modality, ok)
	}
}

func TestCatalogListRendersEveryEntry(t *testing.T) {
	c := NewCatalog([]config.ModelRegistryEntry{
		{PublicName: "a", UpstreamID: "ua", Modality: config.ModalityChat},
		{PublicName: "b", UpstreamID: "ub", Modality: config.ModalityVideo},
	})

	list := c.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}
	for _, entry := range list {
		if entry.Object != "model" || entry.OwnedBy != "arenabridge" {
			t.Fatalf("unexpected entry shape: %+v", entry)
		}
	}
}

func TestIsPlaceholderDetectsSampleMarker(t *testing.T) {
	cases := map[string]bool{
		"":                   true,
		"YOUR_SESSION_ID":     true,
		"abc-123-def-real-id": false,
	}
	for input, want := range cases {
		if got := isPlaceholder(input); got != want {
			t.Errorf("isPlaceholder(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestPickEndpointReturnsSoleEntryWithoutRandomness(t *testing.T) {
	entries := []config.EndpointMapEntry{{SessionID: "s1", MessageID: "m1"}}
	got := pickEndpoint(entries)
	if got.SessionID != "s1" {
		t.Fatalf("expected the sole entry, got %+v", got)
	}
}
