// Package catalog loads and serves service definitions. Each filing
// vertical is data — a YAML file describing plans, steps, fields, upload
// slots, and validation rules — interpreted by one generic wizard engine
// instead of a bespoke implementation per vertical.
package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/filingdesk/filingdesk/internal/domain"
)

//go:embed defs/*.yaml
var builtinDefs embed.FS

// Compile-time check: Store implements domain.Catalog.
var _ domain.Catalog = (*Store)(nil)

// Store holds the loaded service definitions. Reload replaces the whole
// set atomically, so readers always see a consistent catalog.
type Store struct {
	mu   sync.RWMutex
	defs map[string]domain.ServiceDefinition
	dir  string
}

// New loads the built-in definitions plus, when dir is non-empty, any
// *.yaml files found there. Directory files override built-ins with the
// same service id.
func New(dir string) (*Store, error) {
	s := &Store{dir: dir}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads every definition source. On a parse or validation error
// the previous catalog stays in effect.
func (s *Store) Reload() error {
	defs := make(map[string]domain.ServiceDefinition)

	if err := loadFS(builtinDefs, "defs", defs); err != nil {
		return fmt.Errorf("loading built-in definitions: %w", err)
	}

	if s.dir != "" {
		if err := loadFS(os.DirFS(s.dir), ".", defs); err != nil {
			return fmt.Errorf("loading definitions from %s: %w", s.dir, err)
		}
	}

	s.mu.Lock()
	s.defs = defs
	s.mu.Unlock()
	return nil
}

// Service returns the definition with the given id.
func (s *Store) Service(id string) (domain.ServiceDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.defs[id]
	if !ok {
		return domain.ServiceDefinition{}, domain.ErrServiceNotFound
	}
	return def, nil
}

// Services returns all definitions, ordered by id.
func (s *Store) Services() []domain.ServiceDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ServiceDefinition, 0, len(s.defs))
	for _, def := range s.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func loadFS(fsys fs.FS, root string, defs map[string]domain.ServiceDefinition) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(root, entry.Name())
		raw, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		var def domain.ServiceDefinition
		if err := yaml.Unmarshal(raw, &def); err != nil {
			return fmt.Errorf("parsing %s: %w", entry.Name(), err)
		}
		if err := validateDefinition(def); err != nil {
			return fmt.Errorf("invalid definition %s: %w", entry.Name(), err)
		}
		defs[def.ID] = def
	}
	return nil
}

func validateDefinition(def domain.ServiceDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("missing service id")
	}
	if len(def.Plans) == 0 {
		return fmt.Errorf("service %q has no plans", def.ID)
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("service %q has no steps", def.ID)
	}

	plans := make(map[string]bool, len(def.Plans))
	for _, p := range def.Plans {
		if p.ID == "" {
			return fmt.Errorf("service %q has a plan without an id", def.ID)
		}
		if plans[p.ID] {
			return fmt.Errorf("service %q has duplicate plan %q", def.ID, p.ID)
		}
		plans[p.ID] = true
	}

	fields := make(map[string]bool)
	for _, step := range def.Steps {
		if step.ID == "" {
			return fmt.Errorf("service %q has a step without an id", def.ID)
		}
		for _, ref := range step.Plans {
			if !plans[ref] {
				return fmt.Errorf("step %q references unknown plan %q", step.ID, ref)
			}
		}
		for _, f := range step.Fields {
			if f.Key == "" {
				return fmt.Errorf("step %q has a field without a key", step.ID)
			}
			if fields[f.Key] {
				return fmt.Errorf("duplicate field key %q", f.Key)
			}
			fields[f.Key] = true
			for _, ref := range f.Plans {
				if !plans[ref] {
					return fmt.Errorf("field %q references unknown plan %q", f.Key, ref)
				}
			}
		}
	}
	return nil
}
