package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/cellvert/pkg/domain"
)

// Workspace is an in-memory versioned key/value store implementing ports.Backend
type Workspace struct {
	mu        sync.RWMutex
	files     map[string]string
	snapshots map[string]map[string]string
	seq       int
}

// NewWorkspace creates an empty workspace
func NewWorkspace() *Workspace {
	return &Workspace{
		files:     make(map[string]string),
		snapshots: make(map[string]map[string]string),
	}
}

// Set writes a file
func (w *Workspace) Set(path, content string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files[path] = content
}

// Get reads a file
func (w *Workspace) Get(path string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	content, ok := w.files[path]
	return content, ok
}

// Commit snapshots the workspace
func (w *Workspace) Commit(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.NewError(domain.ErrCodeBackendUnavailable, "", "commit cancelled", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// Sequence is mixed in so identical contents still get distinct commits.
	hash := w.hash(w.seq)
	w.snapshots[hash] = copyFiles(w.files)
	w.seq++

	return hash, nil
}

// Revert restores the workspace to the snapshot taken at hash
func (w *Workspace) Revert(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return domain.NewError(domain.ErrCodeBackendUnavailable, "", "revert cancelled", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	snap, ok := w.snapshots[hash]
	if !ok {
		return domain.NewError(domain.ErrCodeBackendProtocol, "", fmt.Sprintf("unknown revision %s", hash), nil)
	}

	w.files = copyFiles(snap)
	return nil
}

func (w *Workspace) hash(seq int) string {
	paths := make([]string, 0, len(w.files))
	for p := range w.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	fmt.Fprintf(h, "%d\n", seq)
	for _, p := range paths {
		fmt.Fprintf(h, "%s\x00%s\x00", p, w.files[p])
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

func copyFiles(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
