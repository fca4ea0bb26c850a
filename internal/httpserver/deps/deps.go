package deps

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/directory/internal/cache"
	"github.com/MrSnakeDoc/directory/internal/logger"
	"github.com/MrSnakeDoc/directory/internal/registry"
	"github.com/MrSnakeDoc/directory/internal/scheduler"
)

type Deps struct {
	Logger          logger.Logger
	StartTime       time.Time
	Version         string
	Commit          string
	BuildDate       string
	GoVersion       string
	AllowedHosts    []string                     // Host headers allowed to access the admin endpoints
	AllowedCIDRS    []string                     // IPs allowed to access the admin endpoints
	TrustProxy      bool                         // true if running behind a trusted reverse proxy (e.g., cloudflared)
	Registry        *registry.Registry           // check, add and listing
	Directory       *cache.DirectoryCache        // listing snapshot, for /infra
	Sweeps          map[string]*scheduler.Runner // keyed by sweep name
	RedisClient     *redis.Client                // nil when the negative cache is in memory
	SubmitBurst     int                          // add/check requests per client in a burst
	SubmitPerMinute int                          // add/check refill per client per minute
}
