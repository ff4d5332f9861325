// Package staging spools Ingress API inputs to disk under a date-sharded
// path and removes them again, implementing the write side of spec.md's
// staging directory contract ("written only by C4, deleted only by C7").
package staging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ai-infra/jobpipeline/internal/domain"
)

// Store spools Ingress inputs under <Root>/<YYYY-MM>/<DD>/<id>_<filename>.
// It implements domain.Staging (C4's write side).
type Store struct {
	Root string
}

// New constructs a Store rooted at root.
func New(root string) *Store { return &Store{Root: root} }

// Stage writes data to the date-sharded staging path for id/filename,
// creating parent directories as needed, and returns the path written.
func (s *Store) Stage(ctx domain.Context, id, filename string, data []byte) (string, error) {
	now := time.Now().UTC()
	dir := filepath.Join(s.Root, now.Format("2006-01"), now.Format("02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("op=staging.stage.mkdir: %w", err)
	}
	path := filepath.Join(dir, id+"_"+filepath.Base(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("op=staging.stage.write: %w", err)
	}
	return path, nil
}

// StageJSON marshals v and stages it as <id>_input.json, for flavors whose
// submitted input is a JSON body rather than an uploaded file.
func (s *Store) StageJSON(ctx domain.Context, id string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("op=staging.stage_json.marshal: %w", err)
	}
	return s.Stage(ctx, id, "input.json", b)
}

// Remove deletes a previously staged file. A missing file is not an error:
// callers use Remove for best-effort rollback (P7) and idempotent sweeps.
func (s *Store) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("op=staging.remove: %w", err)
	}
	return nil
}
