package crawler

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed registry.yml
var builtinRegistry []byte

// Registry holds static per-domain tuned settings, keyed by domain without "www.".
type Registry struct {
	entries map[string]map[string]any
}

type registryFile struct {
	Domains map[string]map[string]any `yaml:"domains"`
}

// NewRegistry returns a registry over entries.
func NewRegistry(entries map[string]map[string]any) *Registry {
	r := &Registry{entries: make(map[string]map[string]any, len(entries))}
	for host, entry := range entries {
		r.entries[registryKey(host)] = entry
	}
	return r
}

// ParseRegistry decodes a registry document.
func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	return NewRegistry(file.Domains), nil
}

// BuiltinRegistry returns the registry compiled into the binary.
func BuiltinRegistry() *Registry {
	r, err := ParseRegistry(builtinRegistry)
	if err != nil {
		panic(err)
	}
	return r
}

// LoadRegistry reads the registry at path and layers it over the built-in
// entries. An empty path returns the built-in registry.
func LoadRegistry(path string) (*Registry, error) {
	base := BuiltinRegistry()
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}
	custom, err := ParseRegistry(data)
	if err != nil {
		return nil, err
	}
	for host, entry := range custom.entries {
		base.entries[host] = entry
	}
	return base, nil
}

// Lookup returns the entry for host or its closest parent domain, nil if none.
// A nil Registry has no entries.
func (r *Registry) Lookup(host string) map[string]any {
	if r == nil {
		return nil
	}
	key := registryKey(host)
	for key != "" {
		if entry, ok := r.entries[key]; ok {
			return entry
		}
		dot := strings.IndexByte(key, '.')
		if dot < 0 || !strings.Contains(key[dot+1:], ".") {
			return nil
		}
		key = key[dot+1:]
	}
	return nil
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

func registryKey(host string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(host)), "www.")
}
