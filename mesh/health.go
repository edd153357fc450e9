package mesh

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// DefaultFailureThreshold is the number of consecutive connection failures
// to one host:port after which the peer is evicted from the mesh.
const DefaultFailureThreshold = 8

// HealthTracker counts consecutive connection failures per host:port and
// evicts the peer from the registry when the threshold is reached. Any
// success wipes the streak; there is no decay or time-window model.
//
// The tracker's lock is released before calling into the registry, so the
// two locks are never held nested. The callback direction is tracker to
// registry only.
type HealthTracker struct {
	mu        sync.Mutex
	threshold int
	failures  map[string]int
	registry  *Registry
}

func NewHealthTracker(registry *Registry, threshold int) *HealthTracker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &HealthTracker{
		threshold: threshold,
		failures:  make(map[string]int),
		registry:  registry,
	}
}

func failureKey(host string, port int) string {
	return fmt.Sprintf("%s___%d", host, port)
}

// RecordFailure notes one failed connection attempt. On reaching the
// threshold the counter is reset and the peer is removed from the mesh.
func (t *HealthTracker) RecordFailure(host string, port int) {
	key := failureKey(host, port)

	t.mu.Lock()
	count := t.failures[key] + 1
	evict := count >= t.threshold
	if evict {
		delete(t.failures, key)
	} else {
		t.failures[key] = count
	}
	t.mu.Unlock()

	if evict {
		log.Infof("HealthTracker: %d consecutive failures for %s:%d, evicting", count, host, port)
		t.registry.RemoveByHost(host)
	}
}

// RecordSuccess wipes any failure streak for the host:port.
func (t *HealthTracker) RecordSuccess(host string, port int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.failures, failureKey(host, port))
}
