package arena

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"sermonpipe/internal/logging"
)

// Arena tracks every scratch file created during one pipeline run so the run
// can delete them all on exit. An Arena belongs to a single run.
type Arena struct {
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	paths    []string
	names    map[string]int
	released bool
}

// New returns an arena rooted at dir. The directory is created lazily by the
// first CreatePath call.
func New(dir string, logger *slog.Logger) *Arena {
	return &Arena{
		dir:    dir,
		logger: logging.NewComponentLogger(logger, "arena"),
		names:  make(map[string]int),
	}
}

// Dir returns the arena's scratch directory.
func (a *Arena) Dir() string { return a.dir }

// CreatePath registers and returns a path for baseName inside the arena.
// Repeated base names receive a numeric suffix before the extension.
func (a *Arena) CreatePath(baseName string) (string, error) {
	name := filepath.Base(strings.TrimSpace(baseName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("arena: invalid base name %q", baseName)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return "", errors.New("arena: already released")
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("arena: create scratch dir: %w", err)
	}

	count := a.names[name]
	a.names[name] = count + 1
	if count > 0 {
		ext := filepath.Ext(name)
		name = strings.TrimSuffix(name, ext) + "-" + strconv.Itoa(count) + ext
	}
	path := filepath.Join(a.dir, name)
	a.paths = append(a.paths, path)
	return path, nil
}

// Paths returns a snapshot of the registered paths.
func (a *Arena) Paths() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.paths))
	copy(out, a.paths)
	return out
}

// RemoveAll deletes every registered path and then the scratch directory.
// Failures are logged and do not stop the remaining deletions. Only the first
// call does any work.
func (a *Arena) RemoveAll() {
	a.mu.Lock()
	if a.released {
		a.mu.Unlock()
		return
	}
	a.released = true
	paths := a.paths
	a.paths = nil
	a.mu.Unlock()

	removed := 0
	for _, path := range paths {
		if err := os.Remove(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			logging.WarnWithContext(a.logger, "temp file cleanup failed", "arena_cleanup_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove the file manually if the scratch disk fills up"),
			)
			continue
		}
		removed++
	}
	if err := os.Remove(a.dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		a.logger.Debug("scratch directory not removed", logging.String("dir", a.dir), logging.Error(err))
	}
	a.logger.Debug("temp files removed", logging.Int("removed", removed), logging.Int("registered", len(paths)))
}
