package coco

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Registry holds named datasets so training and inference can refer to them
// by name instead of carrying paths around. Parsing is deferred until a
// dataset is first fetched. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	annFile   string
	imageRoot string
	ds        *Dataset
	loadErr   error
	loaded    bool
}

// NewRegistry creates an empty dataset registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]*registryEntry{}}
}

// Register records a dataset under a unique name.
//
// Arguments:
//   - name: Registry key, e.g. "defects_train".
//   - annFile: Path to the COCO annotation JSON.
//   - imageRoot: Directory the annotation file's file_name entries are
//     relative to.
//
// Returns:
//   - error: Error if the name is empty or already taken.
func (r *Registry) Register(name, annFile, imageRoot string) error {
	if name == "" {
		return fmt.Errorf("dataset name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("dataset %q is already registered", name)
	}
	r.entries[name] = &registryEntry{annFile: annFile, imageRoot: imageRoot}
	return nil
}

// Unregister removes a dataset. Removing an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Get returns a registered dataset, parsing its annotation file on first
// access. A failed parse is cached and returned on every subsequent Get.
func (r *Registry) Get(name string) (*Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("dataset %q is not registered", name)
	}
	if !entry.loaded {
		entry.ds, entry.loadErr = Load(entry.annFile)
		entry.loaded = true
	}
	if entry.loadErr != nil {
		return nil, errors.Wrapf(entry.loadErr, "loading dataset %q", name)
	}
	return entry.ds, nil
}

// ImagePath resolves an image record of a registered dataset to a path on
// disk, joining the dataset's image root with the record's file name.
func (r *Registry) ImagePath(name string, img *Image) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[name]
	if !ok {
		return "", fmt.Errorf("dataset %q is not registered", name)
	}
	return filepath.Join(entry.imageRoot, img.FileName), nil
}

// Names lists registered dataset names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
