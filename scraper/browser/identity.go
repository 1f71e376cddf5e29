package browser

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"redfin-tracker/config"
)

// Identity is the user agent and optional profile directory of one session.
type Identity struct {
	UserAgent string
	Profile   string
}

// IdentityProvider picks the identity of the next session.
type IdentityProvider interface {
	NextIdentity() Identity
}

// RandomPool chooses uniformly at random from a fixed set of identities.
type RandomPool struct {
	mu         sync.Mutex
	rng        *rand.Rand
	identities []Identity
}

// NewRandomPool builds a pool from the configured identities.
func NewRandomPool(ids []config.IdentityConfig) (*RandomPool, error) {
	return newRandomPool(ids, time.Now().UnixNano())
}

func newRandomPool(ids []config.IdentityConfig, seed int64) (*RandomPool, error) {
	if len(ids) == 0 {
		return nil, errors.New("browser: identity pool is empty")
	}
	pool := &RandomPool{rng: rand.New(rand.NewSource(seed))}
	for _, id := range ids {
		pool.identities = append(pool.identities, Identity{UserAgent: id.UserAgent, Profile: id.Profile})
	}
	return pool, nil
}

func (p *RandomPool) NextIdentity() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identities[p.rng.Intn(len(p.identities))]
}

// jitter returns a duration in [min, max].
func jitter(rng *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int63n(int64(max-min)+1))
}
