package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"canvassync/application/ports"

	"go.uber.org/zap"
)

const defaultStorageTimeout = 2 * time.Second

// DurableCacheStore is a KeyedCache whose entries are mirrored to durable storage
// under a single key, so they survive a restart. Storage failures never reach callers:
// when the medium is full the cache is cleared down to the entry being written and
// the write is retried once.
type DurableCacheStore[V any] struct {
	*KeyedCache[V]

	storage    ports.Storage
	storageKey string
	codec      *Codec
	timeout    time.Duration
	logger     *zap.Logger

	persistMu sync.Mutex
}

// NewDurableCacheStore creates a durable cache. Call Hydrate to restore saved entries.
func NewDurableCacheStore[V any](name string, storage ports.Storage, storageKey string, codec *Codec, logger *zap.Logger, opts ...Option) *DurableCacheStore[V] {
	if codec == nil {
		codec = NewJSONCodec()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &DurableCacheStore[V]{
		storage:    storage,
		storageKey: storageKey,
		codec:      codec,
		timeout:    defaultStorageTimeout,
		logger:     logger.With(zap.String("cache", name)),
	}
	d.KeyedCache = NewKeyedCache[V](name, append(opts, withOnChange(d.persist))...)
	return d
}

// Hydrate restores entries saved by a previous process and returns how many were loaded.
// Unreadable data is discarded and logged rather than returned.
func (d *DurableCacheStore[V]) Hydrate(ctx context.Context) (int, error) {
	raw, ok, err := d.storage.Get(ctx, d.storageKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	var entries map[string]Entry[V]
	if err := d.codec.Decode(raw, &entries); err != nil {
		d.logger.Error("Failed to hydrate cache, discarding saved entries", zap.Error(err))
		_ = d.storage.Remove(ctx, d.storageKey)
		return 0, nil
	}

	d.KeyedCache.Load(entries)
	d.logger.Info("Restored cache from durable storage", zap.Int("entries", len(entries)))
	return len(entries), nil
}

// persist runs after every write to the in-memory cache
func (d *DurableCacheStore[V]) persist(key string) {
	d.persistMu.Lock()
	defer d.persistMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	entries := d.KeyedCache.Snapshot()
	if len(entries) == 0 {
		if err := d.storage.Remove(ctx, d.storageKey); err != nil {
			d.logger.Warn("Failed to remove durable cache", zap.Error(err))
		}
		return
	}

	err := d.write(ctx, entries)
	if err == nil {
		return
	}
	if !errors.Is(err, ports.ErrQuotaExceeded) {
		d.logger.Warn("Failed to persist cache", zap.Error(err))
		return
	}

	d.logger.Warn("Storage limit reached, clearing cached entries", zap.Int("entries", len(entries)))
	d.KeyedCache.opts.metrics.QuotaReset(d.KeyedCache.name)

	kept := make(map[string]Entry[V], 1)
	if e, ok := entries[key]; ok && key != "" {
		kept[key] = e
	}
	d.KeyedCache.Load(kept)
	if err := d.storage.Remove(ctx, d.storageKey); err != nil {
		d.logger.Warn("Failed to remove durable cache", zap.Error(err))
	}
	if len(kept) == 0 {
		return
	}
	if err := d.write(ctx, kept); err != nil {
		d.logger.Warn("Retry after clearing cache failed", zap.String("key", key), zap.Error(err))
	}
}

func (d *DurableCacheStore[V]) write(ctx context.Context, entries map[string]Entry[V]) error {
	encoded, err := d.codec.Encode(entries)
	if err != nil {
		return err
	}
	return d.storage.Set(ctx, d.storageKey, encoded)
}
