package storage

import (
	"context"
	"sync"
	"time"

	"PChatCore/tools/errs"
)

type memEntry struct {
	value    string
	expireAt time.Time
}

// MemDeduper 单节点使用；语义与 RedisDeduper 相同
type MemDeduper struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]memEntry
	now   func() time.Time
}

func NewMemDeduper(ttl time.Duration) *MemDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemDeduper{ttl: ttl, items: make(map[string]memEntry), now: time.Now}
}

func (d *MemDeduper) get(key string) (memEntry, bool) {
	e, ok := d.items[key]
	if ok && d.now().After(e.expireAt) {
		delete(d.items, key)
		return memEntry{}, false
	}
	return e, ok
}

func (d *MemDeduper) Reserve(_ context.Context, key string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.get(key)
	if !ok {
		d.items[key] = memEntry{value: pendingValue, expireAt: d.now().Add(d.ttl)}
		return "", nil
	}
	if e.value == pendingValue {
		return "", errs.ErrConflict.WrapMsg("send in flight, retry", "key", key)
	}
	return e.value, nil
}

func (d *MemDeduper) Commit(_ context.Context, key, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[key] = memEntry{value: messageID, expireAt: d.now().Add(d.ttl)}
	return nil
}

func (d *MemDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.get(key); ok && e.value == pendingValue {
		delete(d.items, key)
	}
	return nil
}

// Sweep 清理过期项，返回清理数量
func (d *MemDeduper) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	now := d.now()
	for k, e := range d.items {
		if now.After(e.expireAt) {
			delete(d.items, k)
			n++
		}
	}
	return n
}
