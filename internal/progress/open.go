package progress

import (
	"fmt"

	"sermonpipe/internal/config"
)

// Open returns the channel selected by cfg.Progress.
func Open(cfg *config.Config) (Channel, error) {
	switch cfg.Progress.Backend {
	case config.ProgressRedis:
		return OpenRedis(cfg.Progress.RedisURL, cfg.Progress.KeyPrefix, cfg.ProgressTTL())
	case config.ProgressMemory, "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported progress backend %q", cfg.Progress.Backend)
	}
}
