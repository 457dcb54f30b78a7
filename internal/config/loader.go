package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mcphub/pkg/logging"

	"github.com/tailscale/hujson"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// Load reads and merges the ordered config file list into a single view.
// Missing files are skipped silently; a malformed file fails the load.
// JSON files may carry // comments and trailing commas; .yaml/.yml files
// are accepted as well. The merged view is validated before it is
// returned, so a non-nil Config is ready to use.
func Load(paths []string) (*Config, error) {
	cfg := &Config{
		Servers: make(map[string]*ServerConfig),
		Extra:   make(map[string]interface{}),
		Paths:   append([]string(nil), paths...),
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logging.Debug("Config", "Config file %s does not exist, skipping", path)
				continue
			}
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		raw, err := normalizeToJSON(path, data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}

		if err := mergeFile(cfg, path, raw); err != nil {
			return nil, err
		}
		logging.Debug("Config", "Merged config file %s (%d servers total)", path, len(cfg.Servers))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalizeToJSON converts file contents to plain JSON bytes. JSONC is
// standardized with hujson; YAML is decoded and re-encoded as JSON so the
// rest of the loader has a single input format.
func normalizeToJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc map[string]interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		return json.Marshal(doc)
	default:
		return hujson.Standardize(data)
	}
}

// mergeFile overlays one parsed file onto the accumulated config. Later
// files win per server name; other top-level keys are replaced whole.
func mergeFile(cfg *Config, path string, raw []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return fmt.Errorf("config file %s is not a JSON object: %w", path, err)
	}

	// mcpServers is canonical; servers is the accepted alias. When both
	// appear in one file, mcpServers wins.
	serversKey := ""
	if gjson.GetBytes(raw, "mcpServers").Exists() {
		serversKey = "mcpServers"
	} else if gjson.GetBytes(raw, "servers").Exists() {
		serversKey = "servers"
	}

	for key, value := range top {
		if key == "mcpServers" || key == "servers" {
			if key != serversKey {
				logging.Warn("Config", "Ignoring %q root key in %s, %q takes precedence", key, path, serversKey)
			}
			continue
		}
		var decoded interface{}
		if err := json.Unmarshal(value, &decoded); err != nil {
			return fmt.Errorf("invalid value for top-level key %q in %s: %w", key, path, err)
		}
		cfg.Extra[key] = decoded
	}

	if serversKey == "" {
		return nil
	}

	var servers map[string]*ServerConfig
	if err := json.Unmarshal(top[serversKey], &servers); err != nil {
		return fmt.Errorf("invalid %q mapping in %s: %w", serversKey, path, err)
	}
	for name, sc := range servers {
		if sc == nil {
			sc = &ServerConfig{}
		}
		if sc.Args == nil {
			sc.Args = []string{}
		}
		sc.ConfigSource = path
		cfg.Servers[name] = sc
	}
	return nil
}
