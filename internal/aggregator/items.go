package aggregator

import (
	"sync"

	"mcphub/pkg/logging"
)

// itemType represents the kind of MCP item published on the unified endpoint.
type itemType string

const (
	itemTypeTool     itemType = "tool"
	itemTypePrompt   itemType = "prompt"
	itemTypeResource itemType = "resource"
)

// activeItemManager tracks which exposed identifiers are currently
// registered on the unified MCP server, keyed to a fingerprint of their
// definition so in-place definition changes are detected.
type activeItemManager struct {
	mu       sync.RWMutex
	items    map[string]string
	itemType itemType
}

func newActiveItemManager(iType itemType) *activeItemManager {
	return &activeItemManager{
		items:    make(map[string]string),
		itemType: iType,
	}
}

// isActive checks if an item is currently published.
func (m *activeItemManager) isActive(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.items[name]
	return ok
}

// upsert records an item and reports whether it is new or its definition
// changed since it was last published.
func (m *activeItemManager) upsert(name, fingerprint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.items[name]; ok && prev == fingerprint {
		return false
	}
	m.items[name] = fingerprint
	return true
}

// getInactiveItems returns items that are no longer in the new set.
func (m *activeItemManager) getInactiveItems(newItems map[string]struct{}) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var inactive []string
	for name := range m.items {
		if _, exists := newItems[name]; !exists {
			inactive = append(inactive, name)
		}
	}
	return inactive
}

// removeItems removes the specified items from the active set.
func (m *activeItemManager) removeItems(items []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		delete(m.items, item)
	}
}

func (m *activeItemManager) count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// collectResult holds the identifiers gathered from all backend servers
// during one refresh cycle.
type collectResult struct {
	newTools     map[string]struct{}
	newPrompts   map[string]struct{}
	newResources map[string]struct{}

	// resourceRoutes maps a resource URI to the backend server that owns
	// it. Resources keep their original URIs, so two servers can publish
	// the same one; the first server in name order wins.
	resourceRoutes map[string]string
}

// collectItems gathers every exposed identifier from the provider's
// current capability caches. Disconnected servers report empty lists and
// contribute nothing.
func collectItems(provider Provider) *collectResult {
	result := &collectResult{
		newTools:       make(map[string]struct{}),
		newPrompts:     make(map[string]struct{}),
		newResources:   make(map[string]struct{}),
		resourceRoutes: make(map[string]string),
	}

	for _, serverName := range provider.ServerNames() {
		for _, tool := range provider.ServerTools(serverName) {
			result.newTools[ExposedName(serverName, tool.Name)] = struct{}{}
		}
		for _, prompt := range provider.ServerPrompts(serverName) {
			result.newPrompts[ExposedName(serverName, prompt.Name)] = struct{}{}
		}
		for _, resource := range provider.ServerResources(serverName) {
			if owner, taken := result.resourceRoutes[resource.URI]; taken {
				logging.Warn("Aggregator", "Resource URI %s provided by both %s and %s, keeping %s",
					resource.URI, owner, serverName, owner)
				continue
			}
			result.resourceRoutes[resource.URI] = serverName
			result.newResources[resource.URI] = struct{}{}
		}
	}

	return result
}

// removeObsoleteItems removes items that no longer exist from the unified
// server and from the manager's active set.
func removeObsoleteItems(
	manager *activeItemManager,
	newItems map[string]struct{},
	removeFunc func(items []string),
) {
	itemsToRemove := manager.getInactiveItems(newItems)

	if len(itemsToRemove) > 0 {
		logging.Debug("Aggregator", "Removing %d %ss: %v", len(itemsToRemove), manager.itemType, itemsToRemove)
		removeFunc(itemsToRemove)
		manager.removeItems(itemsToRemove)
	}
}
