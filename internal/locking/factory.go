package locking

import (
	"path/filepath"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Factory builds named cross-process locks from one configured backend.
// With Redis set, locks are redis keys shared across hosts; otherwise
// they are flock files under Dir. Every binary touching the shared state
// files must use the same backend or the locks exclude nothing.
type Factory struct {
	Redis *goredis.Client
	Dir   string
	TTL   time.Duration
}

// Named returns the lock guarding the named resource.
func (f Factory) Named(name string) Mutex {
	if f.Redis != nil {
		return NewRedisMutex(f.Redis, "executor:lock:"+name, f.TTL)
	}
	return NewFileMutex(filepath.Join(f.Dir, name+".lock"))
}
