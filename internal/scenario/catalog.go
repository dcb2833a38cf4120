// Package scenario loads and serves the scenario configurations sessions are
// started from.
package scenario

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ashureev/pitch-labs/internal/domain"
)

// Pattern matches every scenario document under a directory.
const Pattern = "**/*.{yaml,yml,toml}"

//go:embed defaults/*.yaml defaults/*.toml
var defaults embed.FS

// Parse decodes a scenario document, choosing the format from name's
// extension, and validates it.
func Parse(name string, data []byte) (*domain.Scenario, error) {
	var sc domain.Scenario
	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&sc); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidScenario, name, err)
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&sc); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidScenario, name, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s: unsupported extension %q", domain.ErrInvalidScenario, name, ext)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &sc, nil
}

// ParseFile reads and parses one scenario file.
func ParseFile(p string) (*domain.Scenario, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(p, data)
}

type entry struct {
	scenario *domain.Scenario
	source   string
}

// Catalog holds the scenarios available to new sessions. Built-in defaults
// are always present; files under the configured directory override them by
// id. Scenarios handed out are never mutated.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]entry
	dir     string
	logger  *slog.Logger
}

// New returns a catalog holding the embedded defaults and, when dir is not
// empty, every scenario found under it.
func New(dir string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{entries: make(map[string]entry), dir: dir, logger: logger}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Dir returns the watched directory, if any.
func (c *Catalog) Dir() string { return c.dir }

// Reload rebuilds the catalog. A file that fails to parse is logged and
// skipped; if it previously loaded, its last good version is kept.
func (c *Catalog) Reload() error {
	next := make(map[string]entry)
	if err := c.loadFS(defaults, "defaults/"+Pattern, "builtin:", next); err != nil {
		return fmt.Errorf("load builtin scenarios: %w", err)
	}
	if c.dir != "" {
		if _, err := os.Stat(c.dir); err != nil {
			return fmt.Errorf("scenario dir: %w", err)
		}
		if err := c.loadFS(os.DirFS(c.dir), Pattern, c.dir+string(filepath.Separator), next); err != nil {
			return fmt.Errorf("load scenarios from %s: %w", c.dir, err)
		}
	}

	c.mu.Lock()
	c.entries = next
	c.mu.Unlock()

	c.logger.Info("Scenario catalog loaded", "count", len(next), "dir", c.dir)
	return nil
}

func (c *Catalog) loadFS(fsys fs.FS, pattern, prefix string, into map[string]entry) error {
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return err
	}
	slices.Sort(matches)

	for _, name := range matches {
		source := prefix + filepath.FromSlash(name)
		data, err := fs.ReadFile(fsys, name)
		if err == nil {
			var sc *domain.Scenario
			if sc, err = Parse(name, data); err == nil {
				if prev, dup := into[sc.ID]; dup && !strings.HasPrefix(prev.source, "builtin:") {
					c.logger.Warn("Duplicate scenario id, keeping first", "scenario_id", sc.ID, "path", source, "first", prev.source)
					continue
				}
				into[sc.ID] = entry{scenario: sc, source: source}
				continue
			}
		}

		c.logger.Warn("Skipping invalid scenario file", "path", source, "error", err)
		if good, ok := c.previous(source); ok {
			if _, taken := into[good.scenario.ID]; !taken || strings.HasPrefix(into[good.scenario.ID].source, "builtin:") {
				into[good.scenario.ID] = good
			}
		}
	}
	return nil
}

func (c *Catalog) previous(source string) (entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.source == source {
			return e, true
		}
	}
	return entry{}, false
}

// Get returns the scenario with the given id.
func (c *Catalog) Get(id string) (*domain.Scenario, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrScenarioNotFound, id)
	}
	return e.scenario, nil
}

// Source returns where the scenario with the given id was loaded from.
func (c *Catalog) Source(id string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[id].source
}

// List returns every scenario ordered by id.
func (c *Catalog) List() []*domain.Scenario {
	c.mu.RLock()
	out := make([]*domain.Scenario, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.scenario)
	}
	c.mu.RUnlock()

	slices.SortFunc(out, func(a, b *domain.Scenario) int { return strings.Compare(a.ID, b.ID) })
	return out
}
