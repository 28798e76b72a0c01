package firejson

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tracetrigger/pkg/models"
)

func TestWriterAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "fired.jsonl")

	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteFired([]*models.TriggerFired{{FireID: "a", Trigger: "gc"}}))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.ErrorIs(t, w.WriteFired(nil), os.ErrClosed)

	w, err = NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteFired([]*models.TriggerFired{{FireID: "b", Trigger: "cpu", Counts: models.FireStats{Value: 95}}}))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec models.TriggerFired
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		ids = append(ids, rec.FireID)
	}
	require.Equal(t, []string{"a", "b"}, ids)
}
