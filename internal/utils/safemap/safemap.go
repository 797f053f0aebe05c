package safemap

import (
	"fmt"
	"sync"

	"github.com/zeebo/xxh3"
)

const shardCount = 16

// Map is a thread-safe sharded map implementation.
type Map[K comparable, V any] struct {
	shards [shardCount]*shard[K, V]
}

type shard[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]V
}

func New[K comparable, V any]() *Map[K, V] {
	m := &Map[K, V]{}
	for i := range m.shards {
		m.shards[i] = &shard[K, V]{data: make(map[K]V)}
	}
	return m
}

func (sm *Map[K, V]) getShard(key K) *shard[K, V] {
	var hash uint64
	switch k := any(key).(type) {
	case int:
		hash = uint64(k)
	case int64:
		hash = uint64(k)
	case uint64:
		hash = k
	case string:
		hash = xxh3.HashString(k)
	default:
		hash = xxh3.HashString(fmt.Sprintf("%v", key))
	}
	return sm.shards[hash%shardCount]
}

// Set sets the value for a given key in the map.
func (sm *Map[K, V]) Set(key K, value V) {
	shard := sm.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.data[key] = value
}

// Get retrieves the value for a given key from the map.
// The second return value indicates whether the key was found.
func (sm *Map[K, V]) Get(key K) (V, bool) {
	shard := sm.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	value, ok := shard.data[key]
	return value, ok
}

// GetAndDel deletes the key from the map and returns the previous value if it existed.
func (sm *Map[K, V]) GetAndDel(key K) (value V, ok bool) {
	shard := sm.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	value, ok = shard.data[key]
	if ok {
		delete(shard.data, key)
	}
	return
}

// Del removes a key from the map.
func (sm *Map[K, V]) Del(key K) {
	shard := sm.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.data, key)
}

// Len returns the total number of key-value pairs in the map.
func (sm *Map[K, V]) Len() int {
	total := 0
	for _, shard := range sm.shards {
		shard.mu.RLock()
		total += len(shard.data)
		shard.mu.RUnlock()
	}
	return total
}

// ForEach iterates over all key-value pairs in the map and applies the given
// function. The iteration stops if the function returns false.
func (sm *Map[K, V]) ForEach(fn func(K, V) bool) {
	for _, shard := range sm.shards {
		shard.mu.RLock()
		for key, value := range shard.data {
			if !fn(key, value) {
				shard.mu.RUnlock()
				return
			}
		}
		shard.mu.RUnlock()
	}
}

// Clear removes all key-value pairs from the map.
func (sm *Map[K, V]) Clear() {
	for _, shard := range sm.shards {
		shard.mu.Lock()
		shard.data = make(map[K]V)
		shard.mu.Unlock()
	}
}
