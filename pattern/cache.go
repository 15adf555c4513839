package pattern

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"scripthook/process"
	"scripthook/process/memory_map"

	"github.com/zeebo/xxh3"
	"gopkg.in/yaml.v3"
)

// fingerprintSize covers the image header, which carries the link timestamp
// and section table and so changes with every build.
const fingerprintSize = 0x1000

// ErrNoModule is returned when a module is not mapped in the host.
var ErrNoModule = errors.New("module not mapped")

// Fingerprint identifies the build of a mapped module.
func Fingerprint(mem process.Memory, module string) (string, error) {
	mm, err := mem.GetMemoryMap()
	if err != nil {
		return "", err
	}
	base, ok := memory_map.ModuleBase(module, mm)
	if !ok {
		return "", fmt.Errorf("%q: %w", module, ErrNoModule)
	}

	size := process.Size(fingerprintSize)
	if item := memory_map.Lookup(base, mm); item != nil && process.Size(item.Size) < size {
		size = process.Size(item.Size)
	}

	header, err := mem.ReadMemory(process.Address(base), size)
	if err != nil {
		return "", fmt.Errorf("read header of %q: %w", module, err)
	}
	return fmt.Sprintf("%016x", xxh3.Hash(header)), nil
}

type cacheModule struct {
	Fingerprint string            `yaml:"fingerprint"`
	Entries     map[string]uint64 `yaml:"entries"`
}

// Cache persists match offsets relative to their module base, per build.
// A cached offset is only a hint: the registry re-checks the signature there
// before trusting it.
type Cache struct {
	path string

	mu      sync.Mutex
	Modules map[string]*cacheModule `yaml:"modules"`
	dirty   bool
}

// LoadCache reads a cache file. A missing file yields an empty cache.
func LoadCache(path string) (*Cache, error) {
	c := &Cache{path: path, Modules: make(map[string]*cacheModule)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern cache: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse pattern cache %s: %w", path, err)
	}
	if c.Modules == nil {
		c.Modules = make(map[string]*cacheModule)
	}
	return c, nil
}

// Bind selects the build of module. Entries recorded for another build are
// dropped.
func (c *Cache) Bind(module, fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.Modules[module]
	if ok && m.Fingerprint == fingerprint {
		return
	}
	c.Modules[module] = &cacheModule{Fingerprint: fingerprint, Entries: make(map[string]uint64)}
	c.dirty = true
}

// Lookup returns the cached module-relative offset of a named match.
func (c *Cache) Lookup(module, name string) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.Modules[module]
	if !ok {
		return 0, false
	}
	off, ok := m.Entries[name]
	return off, ok
}

// Store records the module-relative offset of a named match.
func (c *Cache) Store(module, name string, offset uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.Modules[module]
	if !ok {
		m = &cacheModule{Entries: make(map[string]uint64)}
		c.Modules[module] = m
	}
	if m.Entries == nil {
		m.Entries = make(map[string]uint64)
	}
	if prev, ok := m.Entries[name]; ok && prev == offset {
		return
	}
	m.Entries[name] = offset
	c.dirty = true
}

// Save writes the cache back if anything changed.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty || c.path == "" {
		return nil
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal pattern cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write pattern cache: %w", err)
	}
	c.dirty = false
	return nil
}
