// Package integrations hosts adapters that turn external data drops into
// allocation datasets.
package integrations

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"cargoalloc/internal/model"
)

// DatasetSource parses one external format into the wire dataset shape.
type DatasetSource interface {
	Name() string
	Parse(r io.Reader) (model.DatasetIn, error)
}

var (
	mu      sync.RWMutex
	sources = map[string]DatasetSource{}
)

// Register makes a source available by name. Later registrations with the
// same name win, which lets deployments override the built-ins.
func Register(s DatasetSource) {
	mu.Lock()
	defer mu.Unlock()
	sources[s.Name()] = s
}

// Get returns the named source.
func Get(name string) (DatasetSource, error) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := sources[name]
	if !ok {
		return nil, fmt.Errorf("unknown dataset source: %s (known: %v)", name, names())
	}
	return s, nil
}

// names lists registered sources; caller holds mu.
func names() []string {
	out := make([]string, 0, len(sources))
	for n := range sources {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
