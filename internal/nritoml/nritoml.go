// Package nritoml edits containerd's config.toml to enable the NRI
// plugin-support stanza, for the nri-init host-configuration helper
// (C10). Grounded on original_source/crates/nri-init/src/toml_util.rs,
// reimplemented against github.com/pelletier/go-toml/v2 since nothing
// in the teacher or the rest of the example pack imports a TOML
// library (§C.3). go-toml/v2 decodes into a plain document tree rather
// than a comment-preserving one, so Encode writes the whole document
// from that tree: every comment and the original formatting of an
// existing config are lost, while unknown keys and values are kept.
package nritoml

import (
	"bytes"
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// Document is the decoded config.toml tree.
type Document map[string]any

// Parse decodes raw config.toml bytes. An empty or missing file
// parses to an empty Document, matching toml_util.rs's behavior of
// starting from "".parse().unwrap() for a fresh install.
func Parse(raw []byte) (Document, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Document{}, nil
	}
	var doc Document
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode toml: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// Encode serializes the document back to TOML.
func Encode(doc Document) ([]byte, error) {
	out, err := toml.Marshal(map[string]any(doc))
	if err != nil {
		return nil, fmt.Errorf("encode toml: %w", err)
	}
	return out, nil
}

// EnsureVersion2 sets the top-level version key to 2 if absent,
// matching toml_util.rs's ensure_version2. Returns whether it changed
// anything.
func EnsureVersion2(doc Document) bool {
	if _, ok := doc["version"]; ok {
		return false
	}
	doc["version"] = 2
	return true
}

// EnsureNRISection creates or fixes up the NRI plugin table so the
// plugin is enabled and registers at socketPath, matching
// toml_util.rs's ensure_nri_section. A missing table is created with
// containerd's documented defaults; an existing table only has
// "disable" forced to false, leaving every other operator-set field
// untouched. Returns whether it changed anything.
func EnsureNRISection(doc Document, socketPath string) bool {
	plugins, _ := doc["plugins"].(map[string]any)
	if plugins == nil {
		plugins = map[string]any{}
		doc["plugins"] = plugins
	}

	nriKey := "io.containerd.nri.v1.nri"
	existing, ok := plugins[nriKey].(map[string]any)
	if !ok {
		plugins[nriKey] = map[string]any{
			"disable":                     false,
			"disable_connections":         false,
			"plugin_config_path":          "/etc/nri/conf.d",
			"plugin_path":                 "/opt/nri/plugins",
			"plugin_registration_timeout": "5s",
			"plugin_request_timeout":      "2s",
			"socket_path":                 socketPath,
		}
		return true
	}

	if disabled, ok := existing["disable"].(bool); !ok || disabled {
		existing["disable"] = false
		return true
	}
	return false
}
