package registry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"okxfeed/models"
)

// Delta is the effective change produced by a registry mutation, split by the
// connection that must carry it.
type Delta struct {
	Public  []models.SubscriptionKey
	Private []models.SubscriptionKey
}

// For returns the keys belonging to one connection.
func (d Delta) For(v models.Visibility) []models.SubscriptionKey {
	if v == models.Private {
		return d.Private
	}
	return d.Public
}

func (d Delta) Len() int { return len(d.Public) + len(d.Private) }

func (d Delta) Empty() bool { return d.Len() == 0 }

// Snapshot is an immutable view of the registry at one version.
type Snapshot struct {
	Version uint64
	keys    map[models.SubscriptionKey]struct{}
}

func (s *Snapshot) Len() int { return len(s.keys) }

func (s *Snapshot) Contains(k models.SubscriptionKey) bool {
	_, ok := s.keys[k]
	return ok
}

// Keys returns the sorted keys carried by one connection.
func (s *Snapshot) Keys(v models.Visibility) []models.SubscriptionKey {
	out := make([]models.SubscriptionKey, 0, len(s.keys))
	for k := range s.keys {
		if k.Channel.Visibility() == v {
			out = append(out, k)
		}
	}
	sortKeys(out)
	return out
}

// All returns every key, sorted.
func (s *Snapshot) All() []models.SubscriptionKey {
	out := make([]models.SubscriptionKey, 0, len(s.keys))
	for k := range s.keys {
		out = append(out, k)
	}
	sortKeys(out)
	return out
}

// Registry is the set of desired subscriptions. Mutations are serialized by a
// single writer lock and publish a fresh Snapshot; readers never lock.
type Registry struct {
	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]
}

func New() *Registry {
	r := &Registry{}
	r.snap.Store(&Snapshot{keys: map[models.SubscriptionKey]struct{}{}})
	return r
}

// Snapshot returns the current view.
func (r *Registry) Snapshot() *Snapshot {
	return r.snap.Load()
}

// Add records keys and returns those that were not already present. Keys are
// validated up front; an invalid key rejects the whole call.
func (r *Registry) Add(keys ...models.SubscriptionKey) (Delta, error) {
	for _, k := range keys {
		if err := k.Validate(); err != nil {
			return Delta{}, fmt.Errorf("registry add: %w", err)
		}
	}
	return r.mutate(func(cur map[models.SubscriptionKey]struct{}) []models.SubscriptionKey {
		var added []models.SubscriptionKey
		for _, k := range keys {
			if _, ok := cur[k]; ok {
				continue
			}
			cur[k] = struct{}{}
			added = append(added, k)
		}
		return added
	}), nil
}

// Remove drops keys and returns those that were present.
func (r *Registry) Remove(keys ...models.SubscriptionKey) Delta {
	return r.mutate(func(cur map[models.SubscriptionKey]struct{}) []models.SubscriptionKey {
		var removed []models.SubscriptionKey
		for _, k := range keys {
			if _, ok := cur[k]; !ok {
				continue
			}
			delete(cur, k)
			removed = append(removed, k)
		}
		return removed
	})
}

// Clear empties the registry and returns everything it held.
func (r *Registry) Clear() Delta {
	return r.mutate(func(cur map[models.SubscriptionKey]struct{}) []models.SubscriptionKey {
		removed := make([]models.SubscriptionKey, 0, len(cur))
		for k := range cur {
			removed = append(removed, k)
		}
		for _, k := range removed {
			delete(cur, k)
		}
		return removed
	})
}

func (r *Registry) mutate(apply func(map[models.SubscriptionKey]struct{}) []models.SubscriptionKey) Delta {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.snap.Load()
	next := make(map[models.SubscriptionKey]struct{}, len(old.keys))
	for k := range old.keys {
		next[k] = struct{}{}
	}
	changed := apply(next)
	if len(changed) == 0 {
		return Delta{}
	}
	r.snap.Store(&Snapshot{Version: old.Version + 1, keys: next})

	sortKeys(changed)
	var d Delta
	for _, k := range changed {
		if k.Channel.Visibility() == models.Private {
			d.Private = append(d.Private, k)
		} else {
			d.Public = append(d.Public, k)
		}
	}
	return d
}

func sortKeys(keys []models.SubscriptionKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Channel != keys[j].Channel {
			return keys[i].Channel < keys[j].Channel
		}
		return keys[i].InstID < keys[j].InstID
	})
}
