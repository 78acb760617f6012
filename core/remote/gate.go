package remote

import (
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// gateKey is the single TTL-backed entry holding the last pull timestamp.
const gateKey = "last-pull"

// pullGate rate-limits webhook-triggered pulls. The last-pull marker lives
// in a TTL cache and check-and-set runs under a mutex, so concurrent
// webhook deliveries cannot both win a window.
type pullGate struct {
	cache  *ristretto.Cache
	window time.Duration
	mu     sync.Mutex
}

func newPullGate(window time.Duration) (*pullGate, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 64,
		MaxCost:     1 << 10,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &pullGate{cache: cache, window: window}, nil
}

// Allow reports whether a real pull may run now. When it may not, the
// returned duration says how long until the window reopens.
func (g *pullGate) Allow() (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if v, ok := g.cache.Get(gateKey); ok {
		if last, isTime := v.(time.Time); isTime {
			remaining := g.window - time.Since(last)
			if remaining > 0 {
				return false, remaining
			}
		}
	}

	g.cache.SetWithTTL(gateKey, time.Now(), 1, g.window)
	// Ristretto applies writes asynchronously; Wait makes the marker
	// visible before the next Allow can race it.
	g.cache.Wait()
	return true, 0
}
