package identity

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
)

// Chromium cache subdirectories that grow without bound and are safe to
// drop between sessions. Wiping them also discards cache-timing state
// that can fingerprint a returning profile.
var cacheSubdirs = []string{
	"Default/Cache",
	"Default/Code Cache",
	"Default/GPUCache",
	"Default/Service Worker/CacheStorage",
	"ShaderCache",
	"Default/DawnCache",
}

// sessionDirsKept is how many ephemeral session_* directories survive a
// prune. The newest ones may still belong to a live browser.
const sessionDirsKept = 2

// cleanProfileCache removes the cache subdirectories of a profile so a
// rotated session starts cold. The profile itself (cookies, preferences)
// is kept.
func cleanProfileCache(profileDir string, logger arbor.ILogger) {
	var freed int64
	for _, sub := range cacheSubdirs {
		dir := filepath.Join(profileDir, filepath.FromSlash(sub))
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		freed += dirSize(dir)
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn().Err(err).Str("dir", dir).Msg("Cache cleanup failed")
		}
	}
	if freed > 0 {
		logger.Debug().
			Str("profile_dir", profileDir).
			Int64("freed_mb", freed/(1024*1024)).
			Msg("Cleaned profile caches")
	}
}

// pruneSessionDirs removes ephemeral session_* directories next to the
// profile, keeping the keep most recent by modification time. These
// accumulate when a locked profile forces a launch into a throwaway copy.
func pruneSessionDirs(profileDir string, keep int, logger arbor.ILogger) {
	parent := filepath.Dir(profileDir)
	entries, err := os.ReadDir(parent)
	if err != nil {
		return
	}

	type sessionDir struct {
		path    string
		modTime int64
	}
	var dirs []sessionDir
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "session_") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, sessionDir{
			path:    filepath.Join(parent, entry.Name()),
			modTime: info.ModTime().UnixNano(),
		})
	}
	if len(dirs) <= keep {
		return
	}

	// Newest first; everything past keep goes
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].modTime > dirs[j].modTime })
	removed := 0
	for _, d := range dirs[keep:] {
		if err := os.RemoveAll(d.path); err != nil {
			logger.Warn().Err(err).Str("dir", d.path).Msg("Session dir cleanup failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Debug().
			Str("parent", parent).
			Int("removed", removed).
			Msg("Pruned ephemeral session dirs")
	}
}

// wipeProfile removes a corrupted profile directory entirely and recreates
// it empty. Last resort after the browser refuses to start on it.
func wipeProfile(profileDir string, logger arbor.ILogger) {
	if err := os.RemoveAll(profileDir); err != nil {
		logger.Warn().Err(err).Str("profile_dir", profileDir).Msg("Profile wipe failed")
		return
	}
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		logger.Warn().Err(err).Str("profile_dir", profileDir).Msg("Profile recreate failed")
		return
	}
	logger.Info().Str("profile_dir", profileDir).Msg("Wiped corrupted profile")
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
