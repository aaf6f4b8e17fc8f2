package cache

import (
	"context"
	"fmt"
	"strings"
)

// Logical store kinds
const (
	KindStatic  = "static"
	KindDynamic = "dynamic"
	KindMedia   = "media"
)

// StoreSet names the stores that belong to one cache version
type StoreSet struct {
	Version string
	Static  string
	Dynamic string
	Media   string
}

// NewStoreSet returns the store names for version, e.g. static-v2
func NewStoreSet(version string) StoreSet {
	version = strings.TrimSpace(version)
	return StoreSet{
		Version: version,
		Static:  KindStatic + "-" + version,
		Dynamic: KindDynamic + "-" + version,
		Media:   KindMedia + "-" + version,
	}
}

// AllowList returns every store name that belongs to this version
func (s StoreSet) AllowList() []string {
	return []string{s.Static, s.Dynamic, s.Media}
}

// Allows reports whether name belongs to this version
func (s StoreSet) Allows(name string) bool {
	for _, n := range s.AllowList() {
		if n == name {
			return true
		}
	}
	return false
}

type storeSetKey struct{}

// WithStoreSet pins set to ctx for the rest of a request
func WithStoreSet(ctx context.Context, set StoreSet) context.Context {
	return context.WithValue(ctx, storeSetKey{}, set)
}

// StoreSetFromContext returns the set pinned by WithStoreSet
func StoreSetFromContext(ctx context.Context) (StoreSet, bool) {
	set, ok := ctx.Value(storeSetKey{}).(StoreSet)
	return set, ok
}

// AggregateSize sums SizeBytes over every entry in every store of r
func AggregateSize(ctx context.Context, r Registry) (int64, error) {
	names, err := r.ListStores(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stores: %w", err)
	}

	var total int64
	for _, name := range names {
		store, err := r.Open(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("open store %s: %w", name, err)
		}
		keys, err := store.Keys(ctx)
		if err != nil {
			return 0, fmt.Errorf("list keys in %s: %w", name, err)
		}
		for _, key := range keys {
			entry, ok, err := store.Match(ctx, key)
			if err != nil {
				return 0, fmt.Errorf("match %s in %s: %w", key, name, err)
			}
			if ok {
				total += entry.SizeBytes
			}
		}
	}
	return total, nil
}

// DeleteAll removes every store in r
func DeleteAll(ctx context.Context, r Registry) (int, error) {
	names, err := r.ListStores(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stores: %w", err)
	}
	deleted := 0
	for _, name := range names {
		ok, err := r.DeleteStore(ctx, name)
		if err != nil {
			return deleted, fmt.Errorf("delete store %s: %w", name, err)
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}
