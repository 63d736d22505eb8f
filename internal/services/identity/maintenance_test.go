package identity

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/quaesitor/internal/common"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
}

func TestCleanProfileCache_RemovesCachesKeepsProfile(t *testing.T) {
	profileDir := t.TempDir()
	writeFile(t, filepath.Join(profileDir, "Default", "Cache", "f_000001"))
	writeFile(t, filepath.Join(profileDir, "Default", "Code Cache", "js", "index"))
	writeFile(t, filepath.Join(profileDir, "ShaderCache", "GPUCache", "data_0"))
	writeFile(t, filepath.Join(profileDir, "Default", "Cookies"))
	writeFile(t, filepath.Join(profileDir, "Default", "Preferences"))

	cleanProfileCache(profileDir, common.GetLogger())

	for _, gone := range []string{
		filepath.Join(profileDir, "Default", "Cache"),
		filepath.Join(profileDir, "Default", "Code Cache"),
		filepath.Join(profileDir, "ShaderCache"),
	} {
		_, err := os.Stat(gone)
		assert.True(t, os.IsNotExist(err), "expected %s to be removed", gone)
	}
	for _, kept := range []string{
		filepath.Join(profileDir, "Default", "Cookies"),
		filepath.Join(profileDir, "Default", "Preferences"),
	} {
		_, err := os.Stat(kept)
		assert.NoError(t, err, "expected %s to survive", kept)
	}
}

func TestCleanProfileCache_MissingDirsAreFine(t *testing.T) {
	cleanProfileCache(filepath.Join(t.TempDir(), "never-created"), common.GetLogger())
}

func TestPruneSessionDirs_KeepsMostRecent(t *testing.T) {
	root := t.TempDir()
	profileDir := filepath.Join(root, "default")
	require.NoError(t, os.MkdirAll(profileDir, 0o755))

	// Oldest to newest, with explicit mtimes so ordering is deterministic
	base := time.Now().Add(-time.Hour)
	names := []string{"session_1_1000", "session_2_2000", "session_3_3000", "session_4_4000"}
	for i, name := range names {
		dir := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		mtime := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(dir, mtime, mtime))
	}

	pruneSessionDirs(profileDir, 2, common.GetLogger())

	for _, gone := range names[:2] {
		_, err := os.Stat(filepath.Join(root, gone))
		assert.True(t, os.IsNotExist(err), "expected %s pruned", gone)
	}
	for _, kept := range names[2:] {
		_, err := os.Stat(filepath.Join(root, kept))
		assert.NoError(t, err, "expected %s kept", kept)
	}
	// The profile itself is never a prune candidate
	_, err := os.Stat(profileDir)
	assert.NoError(t, err)
}

func TestPruneSessionDirs_UnderLimitUntouched(t *testing.T) {
	root := t.TempDir()
	profileDir := filepath.Join(root, "default")
	require.NoError(t, os.MkdirAll(profileDir, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "session_1_1000"), 0o755))

	pruneSessionDirs(profileDir, 2, common.GetLogger())

	_, err := os.Stat(filepath.Join(root, "session_1_1000"))
	assert.NoError(t, err)
}

func TestWipeProfile_RecreatesEmpty(t *testing.T) {
	profileDir := filepath.Join(t.TempDir(), "default")
	writeFile(t, filepath.Join(profileDir, "Default", "Preferences"))

	wipeProfile(profileDir, common.GetLogger())

	entries, err := os.ReadDir(profileDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
