// Package contract serves the AsyncAPI document describing the envelopes
// this node exchanges with the mesh.
package contract

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed asyncapi.yaml
var embedded []byte

// Document is a parsed AsyncAPI document.
type Document struct {
	raw    []byte
	parsed map[string]any
}

// Load reads the document at path, or the built-in one when path is empty.
func Load(path string) (*Document, error) {
	raw := embedded
	if path != "" {
		var err error
		if raw, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read contract: %w", err)
		}
	}
	return Parse(raw)
}

// Parse validates raw as an AsyncAPI document.
func Parse(raw []byte) (*Document, error) {
	var parsed map[string]any
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse contract: %w", err)
	}
	if _, ok := parsed["asyncapi"]; !ok {
		return nil, errors.New("parse contract: missing asyncapi version")
	}
	if _, ok := parsed["channels"].(map[string]any); !ok {
		return nil, errors.New("parse contract: missing channels")
	}
	return &Document{raw: raw, parsed: parsed}, nil
}

// YAML returns the document exactly as loaded.
func (d *Document) YAML() []byte {
	return d.raw
}

// JSON renders the document as JSON.
func (d *Document) JSON() ([]byte, error) {
	return json.Marshal(d.parsed)
}

// Version returns info.version, or "" when absent.
func (d *Document) Version() string {
	info, _ := d.parsed["info"].(map[string]any)
	v, _ := info["version"].(string)
	return v
}

// Channels returns the channel addresses, sorted.
func (d *Document) Channels() []string {
	channels, _ := d.parsed["channels"].(map[string]any)
	var addresses []string
	for _, ch := range channels {
		m, _ := ch.(map[string]any)
		if address, ok := m["address"].(string); ok {
			addresses = append(addresses, address)
		}
	}
	sort.Strings(addresses)
	return addresses
}
