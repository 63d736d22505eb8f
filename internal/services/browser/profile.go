package browser

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Chromium lock artifacts left behind by unclean shutdowns. A stale lock
// makes the next launch fail with "user data directory is already in use".
var lockFileNames = []string{"SingletonLock", "SingletonCookie", "SingletonSocket", "lockfile", "LOCK"}

// PrepareProfileDir creates the profile directory if needed and removes
// stale lock files so a crashed session cannot wedge the next launch.
func PrepareProfileDir(profileDir string) error {
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir %s: %w", profileDir, err)
	}
	CleanLockFiles(profileDir)
	return nil
}

// CleanLockFiles removes known lock artifacts from the profile directory,
// top-level first, then any LOCK or Singleton* file in subdirectories.
// Removal failures are ignored; a launch attempt follows either way.
func CleanLockFiles(profileDir string) {
	for _, name := range lockFileNames {
		_ = os.Remove(filepath.Join(profileDir, name))
	}

	_ = filepath.WalkDir(profileDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		if name == "LOCK" || strings.HasPrefix(name, "Singleton") {
			_ = os.Remove(path)
		}
		return nil
	})
}

// ephemeralSessionDir returns a unique session_* directory under the base
// profile, used when the base directory stays locked after cleanup.
func ephemeralSessionDir(baseDir string) string {
	name := fmt.Sprintf("session_%d_%d", time.Now().UnixMilli(), 1000+rand.Intn(9000))
	return filepath.Join(baseDir, name)
}
