package behavior

import (
	"sort"
	"sync"
)

type Blackboard struct {
	mu   sync.RWMutex
	data map[string]interface{}
}

func NewBlackboard() *Blackboard {
	return &Blackboard{
		data: make(map[string]interface{}),
	}
}

func (b *Blackboard) Set(key string, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
}

func (b *Blackboard) Get(key string) interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data[key]
}

// Lookup returns the value stored under key and whether it was set.
func (b *Blackboard) Lookup(key string) (interface{}, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	return v, ok
}

func (b *Blackboard) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
}

func (b *Blackboard) GetString(key string) string {
	val := b.Get(key)
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

// GetUint32 converts the stored value, accepting any numeric or numeric string.
func (b *Blackboard) GetUint32(key string) (uint32, bool) {
	val, ok := b.Lookup(key)
	if !ok {
		return 0, false
	}
	n, err := ToUint32(val)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Keys returns the sorted set of keys currently on the board.
func (b *Blackboard) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
