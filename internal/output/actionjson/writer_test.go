package actionjson

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatshield/pkg/models"
)

func TestWriterAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "actions.jsonl")

	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Publish(context.Background(), &models.ActionRequest{
		ID:                     "a1",
		Kind:                   models.ActionExecuteCountermeasures,
		ExecuteCountermeasures: &models.ExecuteCountermeasures{TargetAddress: "203.0.113.25", Level: models.LevelCritical},
	}))
	require.NoError(t, w.Close())

	// A reopened writer keeps what was already there.
	w, err = NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Publish(context.Background(), &models.ActionRequest{
		ID:                   "a2",
		Kind:                 models.ActionEscalateDeepAnalysis,
		EscalateDeepAnalysis: &models.EscalateDeepAnalysis{},
	}))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		ids = append(ids, line["id"].(string))
	}
	assert.Equal(t, []string{"a1", "a2"}, ids)
}

func TestPublishAfterClose(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "actions.jsonl"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Error(t, w.Publish(context.Background(), &models.ActionRequest{ID: "late"}))
}
