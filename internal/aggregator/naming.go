package aggregator

import (
	"fmt"
	"strings"

	"mcphub/internal/config"
)

// ExposedName returns the namespaced identifier under which a backend
// server's tool or prompt is published on the unified endpoint.
func ExposedName(serverName, itemName string) string {
	return serverName + config.NamespaceSeparator + itemName
}

// SplitExposedName resolves an exposed identifier back to the server name
// and the item's original name. The separator is reserved in server names,
// so splitting on its first occurrence is unambiguous.
func SplitExposedName(exposed string) (serverName, itemName string, err error) {
	parts := strings.SplitN(exposed, config.NamespaceSeparator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid namespaced name %q: expected <server>%s<name>", exposed, config.NamespaceSeparator)
	}
	return parts[0], parts[1], nil
}
