// Package catalog lists the scenarios mounted into the coordinator.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var scenarioExtensions = map[string]bool{
	".scala": true,
	".conf":  true,
}

type Catalog struct {
	dir string
}

func New(dir string) *Catalog {
	return &Catalog{dir: strings.TrimSpace(dir)}
}

func (c *Catalog) Dir() string {
	return c.dir
}

// List returns scenario names in sorted order. A missing directory yields an
// empty list.
func (c *Catalog) List() ([]string, error) {
	if c.dir == "" {
		return []string{}, nil
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read scenarios dir: %w", err)
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if !scenarioExtensions[ext] {
			continue
		}
		base := strings.TrimSuffix(name, ext)
		// ConfigMap mounts expose hidden ..data entries.
		if base == "" || strings.HasPrefix(base, ".") || seen[base] {
			continue
		}
		seen[base] = true
		out = append(out, base)
	}
	sort.Strings(out)
	return out, nil
}

func (c *Catalog) Has(name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, nil
	}
	names, err := c.List()
	if err != nil {
		return false, err
	}
	i := sort.SearchStrings(names, name)
	return i < len(names) && names[i] == name, nil
}
