package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/interfaces"
)

func TestStore_RoundTrip(t *testing.T) {
	root := filepath.Join(t.TempDir(), "artifacts")
	store, err := NewStore(root, arbor.NewLogger())
	require.NoError(t, err)
	ctx := context.Background()

	location, err := store.Put(ctx, "raw/saldos_20240305.json", []byte(`{"ok":true}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Root(), "raw", "saldos_20240305.json"), location)

	onDisk, err := os.ReadFile(location)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(onDisk))

	data, err := store.Get(ctx, "raw/saldos_20240305.json")
	require.NoError(t, err)
	assert.Equal(t, onDisk, data)

	_, err = store.Get(ctx, "raw/none.json")
	assert.ErrorIs(t, err, interfaces.ErrArtifactNotFound)
}

func TestStore_List(t *testing.T) {
	store, err := NewStore(t.TempDir(), arbor.NewLogger())
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"raw/b.json", "raw/a.json", "archive/raw/c.json"} {
		_, err := store.Put(ctx, key, []byte("{}"), "")
		require.NoError(t, err)
	}

	infos, err := store.List(ctx, "raw/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "raw/a.json", infos[0].Key)
	assert.Equal(t, "raw/b.json", infos[1].Key)
	assert.EqualValues(t, 2, infos[1].Size)
}

func TestStore_RejectsEscapingKeys(t *testing.T) {
	store, err := NewStore(t.TempDir(), arbor.NewLogger())
	require.NoError(t, err)

	for _, key := range []string{"", "../outside.json", "raw/../../x.json", "/etc/passwd"} {
		_, err := store.Put(context.Background(), key, []byte("x"), "")
		assert.Error(t, err, key)
	}
}
