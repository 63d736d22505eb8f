package store

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaesitor/internal/common"
	"github.com/ternarybob/quaesitor/internal/interfaces"
)

// NewStore creates a shared store based on config. Redis is required
// for multi-worker fleets; the memory backend only coordinates within
// a single process.
func NewStore(cfg *common.StoreConfig, logger arbor.ILogger) (interfaces.SharedStore, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedisStore(cfg, logger)
	case "memory", "":
		logger.Info().Msg("Using in-process shared store")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}
