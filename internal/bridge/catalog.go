package bridge

import (
	"math/rand"
	"strings"
	"sync"

	"github.com/arenabridge/bridge/internal/config"
)

// modelEntry is the catalog's view of one advertised model.
type modelEntry struct {
	upstreamID string
	modality   string
}

// Catalog is the advertised model registry: seeded at startup from the
// declarative models file, then wholesale-replaced by the peer's
// model_registry push per spec.md §4.E.
type Catalog struct {
	mu     sync.RWMutex
	models map[string]modelEntry
}

// NewCatalog seeds a Catalog from the declarative model registry.
func NewCatalog(seed []config.ModelRegistryEntry) *Catalog {
	c := &Catalog{models: make(map[string]modelEntry, len(seed))}
	for _, e := range seed {
		c.models[e.PublicName] = modelEntry{upstreamID: e.UpstreamID, modality: string(e.Modality)}
	}
	return c
}

// Lookup returns the upstream id and modality for a public model name.
func (c *Catalog) Lookup(publicName string) (upstreamID, modality string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.models[publicName]
	return e.upstreamID, e.modality, ok
}

// Replace wholesale-replaces the catalog from a peer model_registry push.
// Each value is expected to carry at least an "id" (upstream id); modality
// defaults to "chat" when absent. Returns the new size for model_registry_ack.
func (c *Catalog) Replace(models map[string]interface{}) int {
	next := make(map[string]modelEntry, len(models))
	for name, raw := range models {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		upstreamID, _ := entry["id"].(string)
		if upstreamID == "" {
			upstreamID, _ = entry["upstream_id"].(string)
		}
		modality, _ := entry["modality"].(string)
		if modality == "" {
			modality = "chat"
		}
		next[name] = modelEntry{upstreamID: upstreamID, modality: modality}
	}

	c.mu.Lock()
	c.models = next
	c.mu.Unlock()
	return len(next)
}

// List renders the catalog for GET /v1/models.
func (c *Catalog) List() []ModelListEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ModelListEntry, 0, len(c.models))
	for name, e := range c.models {
		out = append(out, ModelListEntry{
			ID:      name,
			Object:  "model",
			OwnedBy: "arenabridge",
			Type:    e.modality,
		})
	}
	return out
}

// ModelListEntry is one element of GET /v1/models' data array.
type ModelListEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
	Type    string `json:"type"`
}

// isPlaceholder flags an id carried over unedited from the sample config,
// mirroring the original bridge's "YOUR_" marker check.
func isPlaceholder(id string) bool {
	return id == "" || strings.Contains(id, "YOUR_")
}

// pickEndpoint chooses one entry from a model's candidate list, picking
// uniformly at random when more than one is configured per spec.md §4.F
// step 2.
func pickEndpoint(entries []config.EndpointMapEntry) config.EndpointMapEntry {
	if len(entries) == 1 {
		return entries[0]
	}
	return entries[rand.Intn(len(entries))]
}
