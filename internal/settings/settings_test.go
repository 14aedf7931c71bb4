package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingFileUsesDefaults(t *testing.T) {
	s, err := NewViperStore(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	assert.False(t, s.GetBool("config.netatmo.enabled", false))
	assert.True(t, s.GetBool("config.netatmo.enabled", true))
	assert.Equal(t, "x", s.GetString("config.netatmo.id", "x"))
	assert.Nil(t, s.Get(KeyNetatmoPersist, nil))
}

func TestSetPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")

	s, err := NewViperStore(path)
	require.NoError(t, err)

	require.NoError(t, s.Set(KeyNetatmoConfig, map[string]any{
		"enabled": true,
		"id":      "client",
	}))
	require.NoError(t, s.Set(KeyNetatmoPersist, []any{map[string]any{"_id": "a"}}))

	_, err = os.Stat(path)
	require.NoError(t, err)

	reloaded, err := NewViperStore(path)
	require.NoError(t, err)

	assert.True(t, reloaded.GetBool("config.netatmo.enabled", false))
	assert.Equal(t, "client", reloaded.GetString("config.netatmo.id", ""))
	assert.Equal(t, "", reloaded.GetString("config.netatmo.secret", ""))

	persisted, ok := reloaded.Get(KeyNetatmoPersist, nil).([]any)
	require.True(t, ok)
	assert.Len(t, persisted, 1)
}

func TestCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewViperStore(path)
	assert.Error(t, err)
}
