package staging

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStage_WritesDateShardedPath(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	path, err := s.Stage(context.Background(), "J1", "input.bin", []byte("payload"))
	require.NoError(t, err)

	now := time.Now().UTC()
	wantDir := filepath.Join(root, now.Format("2006-01"), now.Format("02"))
	assert.Equal(t, filepath.Join(wantDir, "J1_input.bin"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestStage_SanitizesFilenameToBase(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	path, err := s.Stage(context.Background(), "J2", "../../etc/passwd", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "J2_passwd", filepath.Base(path))
}

func TestStageJSON_WritesMarshaledInput(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	path, err := s.StageJSON(context.Background(), "J3", map[string]string{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "J3_input.json", filepath.Base(path))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	var v map[string]string
	require.NoError(t, json.Unmarshal(got, &v))
	assert.Equal(t, "hi", v["text"])
}

func TestRemove_IdempotentOnMissingFile(t *testing.T) {
	s := New(t.TempDir())
	assert.NoError(t, s.Remove(filepath.Join(t.TempDir(), "missing")))
	assert.NoError(t, s.Remove(""))
}

func TestRemove_DeletesStagedFile(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	path, err := s.Stage(context.Background(), "J4", "a.bin", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, s.Remove(path))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
