package config

import "sort"

// Delta describes how the server set changed between two loaded configs.
// Names are sorted for stable logging and test output.
type Delta struct {
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Modified  []string `json:"modified"`
	Unchanged []string `json:"unchanged"`
}

// Significant reports whether the delta requires reconciling connections.
// A reload where every server lands in Unchanged is a no-op.
func (d Delta) Significant() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0 || len(d.Modified) > 0
}

// Diff compares two configs by server name. Entries are compared by deep
// equality of their content; which file a definition came from is ignored.
func Diff(oldCfg, newCfg *Config) Delta {
	var d Delta

	var oldServers, newServers map[string]*ServerConfig
	if oldCfg != nil {
		oldServers = oldCfg.Servers
	}
	if newCfg != nil {
		newServers = newCfg.Servers
	}

	for name, newSC := range newServers {
		oldSC, existed := oldServers[name]
		switch {
		case !existed:
			d.Added = append(d.Added, name)
		case oldSC.Equal(newSC):
			d.Unchanged = append(d.Unchanged, name)
		default:
			d.Modified = append(d.Modified, name)
		}
	}
	for name := range oldServers {
		if _, exists := newServers[name]; !exists {
			d.Removed = append(d.Removed, name)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Modified)
	sort.Strings(d.Unchanged)
	return d
}
