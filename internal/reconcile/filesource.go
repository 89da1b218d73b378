package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/domain"
)

// keyEntry is the wire shape of one entry in the MAILTESTER_KEYS_JSON_PATH
// file: a flat array of {id, plan}, matching internal/config/seed.go's
// jsonSeedEntry since both read the same file.
type keyEntry struct {
	ID   string `json:"id"`
	Plan string `json:"plan"`
}

// FileSource is a DesiredSetSource backed by a JSON file on disk, polled by
// mtime rather than fsnotify — the teacher and the rest of the retrieval
// corpus have no filesystem-watch dependency, so this stays on os.Stat
// (see DESIGN.md).
type FileSource struct {
	path string

	mu       sync.Mutex
	lastMod  int64
	cached   map[string]domain.Plan
	hasCache bool
}

// NewFileSource builds a FileSource reading from path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Desired re-reads the file only if its mtime has advanced since the last
// call; otherwise it returns the cached desired set.
func (f *FileSource) Desired(ctx context.Context) (map[string]domain.Plan, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return nil, fmt.Errorf("stat keys file: %w", err)
	}
	mtime := info.ModTime().UnixNano()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hasCache && mtime == f.lastMod {
		return f.cached, nil
	}

	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read keys file: %w", err)
	}
	var entries []keyEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse keys file: %w", err)
	}

	desired := make(map[string]domain.Plan, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		desired[e.ID] = domain.NormalizePlan(e.Plan)
	}

	f.cached = desired
	f.lastMod = mtime
	f.hasCache = true
	return desired, nil
}
