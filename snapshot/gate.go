package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrUpdateInProgress is returned while a refresh cycle is running;
	// callers should retry once the cycle finishes.
	ErrUpdateInProgress = errors.New("snapshot: update in progress")

	// ErrNoSnapshot is returned when no cycle has ever published an archive.
	ErrNoSnapshot = errors.New("snapshot: no snapshot published yet")
)

// Gate is the publication gate: the single owner of the "current archive
// path" reference and the updating flag. All reads and writes of either
// go through its mutex, so readers on other goroutines observe a swap or
// a rejection, never a torn state.
type Gate struct {
	mu       sync.Mutex
	path     string
	updating bool
}

// NewGate creates a Gate, adopting an archive left in dir by a previous
// run so a restart keeps serving the last published snapshot.
func NewGate(dir string) *Gate {
	g := &Gate{}
	if existing := findExisting(dir); existing != "" {
		g.path = existing
	}
	return g
}

// findExisting picks the newest providers-*.zip in dir, if any.
func findExisting(dir string) string {
	matches, err := filepath.Glob(filepath.Join(dir, "providers-*.zip"))
	if err != nil || len(matches) == 0 {
		return ""
	}

	newest := ""
	var newestMod int64
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest, newestMod = m, mod
		}
	}
	return newest
}

// CurrentPath returns the path of the published archive. It fails with
// ErrUpdateInProgress for the whole duration of a refresh cycle, even
// when a valid previous archive exists: freshness signaling is preferred
// over serving a stale file.
func (g *Gate) CurrentPath() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.updating {
		return "", ErrUpdateInProgress
	}
	if g.path == "" {
		return "", ErrNoSnapshot
	}
	return g.path, nil
}

// Updating reports whether a refresh cycle is running.
func (g *Gate) Updating() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.updating
}

// BeginUpdate raises the updating flag for the duration of a cycle.
func (g *Gate) BeginUpdate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updating = true
}

// EndUpdate lowers the updating flag. Runs on every cycle exit path.
func (g *Gate) EndUpdate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updating = false
}

// Publish swaps the current archive pointer to newPath and returns the
// previous path so the caller can delete it after the swap. Delete-after-
// replace: the old archive is never removed before the new one is live.
func (g *Gate) Publish(newPath string) (oldPath string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	oldPath = g.path
	g.path = newPath
	return oldPath
}
