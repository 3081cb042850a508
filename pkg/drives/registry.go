package drives

import (
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ReadyDrive is a drive whose finished outputs were handed to the miner.
type ReadyDrive struct {
	Path         string    `json:"path"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Registry records drives that passed a checkpoint.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	drives map[string]ReadyDrive
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{drives: make(map[string]ReadyDrive), now: time.Now}
}

// Register marks path ready for mining. Registering an empty path is a no-op
// so checkpoints without a drive still succeed.
func (r *Registry) Register(path string) error {
	if path == "" {
		return nil
	}
	key := filepath.Clean(path)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.drives[key] = ReadyDrive{Path: key, RegisteredAt: r.now().UTC()}
	return nil
}

// IsReady reports whether path has been registered.
func (r *Registry) IsReady(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.drives[filepath.Clean(path)]
	return ok
}

// List returns registered drives sorted by path.
func (r *Registry) List() []ReadyDrive {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ReadyDrive, 0, len(r.drives))
	for _, d := range r.drives {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
