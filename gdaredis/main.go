// Package gdaredis is the Redis adapter: entities are stored as JSON values
// under "<table>:<id>" keys, and restriction queries load the stored records
// and filter them client side with gda.Restrictions.Match. List, Count,
// UpdateWhere and DeleteWhere therefore scan every key under the entity
// prefix. Redis offers no multi-operation transaction a unit of work could
// read from, so the DAO satisfies gda.DAO but not gda.Transactor.
package gdaredis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lemmego/gda"
)

// =====================================
// Connecting
// =====================================

// Open connects a Redis client and verifies the server is reachable.
func Open(cfg gda.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// =====================================
// DAO
// =====================================

// DAO implements gda.DAO over a Redis key space. The descriptor's Table names
// the key prefix, its Fields mapping renames restriction and update keys to
// the stored JSON names, and id extracts the identifier that completes each
// key. Keys and JSON documents both carry whatever the entity's json tags
// produce, so the Fields mapping is only needed when logical names differ
// from the tags.
type DAO[T any] struct {
	client *redis.Client
	desc   gda.Descriptor
	id     gda.IDFunc[T]
}

// New builds a DAO on an open client.
func New[T any](client *redis.Client, desc gda.Descriptor, id gda.IDFunc[T]) *DAO[T] {
	return &DAO[T]{client: client, desc: desc, id: id}
}

var _ gda.DAO[struct{}] = (*DAO[struct{}])(nil)

// =====================================
// Write Operations
// =====================================

// Save stores a new entity. Saving an identifier that already has a value
// fails, matching the duplicate-key behavior of the other backends.
func (d *DAO[T]) Save(ctx context.Context, entity *T) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return err
	}
	key := d.key(d.id(entity))
	created, err := d.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("gdaredis: %s already exists", key)
	}
	return nil
}

// SaveAll stores the entities one by one, stopping at the first failure.
func (d *DAO[T]) SaveAll(ctx context.Context, entities []*T) error {
	for _, entity := range entities {
		if err := d.Save(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// SaveOrUpdate stores the entity whether or not its key already has a value.
func (d *DAO[T]) SaveOrUpdate(ctx context.Context, entity *T) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return err
	}
	return d.client.Set(ctx, d.key(d.id(entity)), data, 0).Err()
}

// Update overwrites the stored value for the entity's key. SET with the XX
// flag skips keys that do not exist, so updating a missing entity is silent.
func (d *DAO[T]) Update(ctx context.Context, entity *T) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return err
	}
	return d.client.SetXX(ctx, d.key(d.id(entity)), data, 0).Err()
}

// UpdateAll updates the entities one by one, stopping at the first failure.
func (d *DAO[T]) UpdateAll(ctx context.Context, entities []*T) error {
	for _, entity := range entities {
		if err := d.Update(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// UpdateFields merges the given fields into the stored JSON record, leaving
// every other field as it was. A missing record is silently skipped.
func (d *DAO[T]) UpdateFields(ctx context.Context, id any, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	key := d.key(id)
	data, err := d.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}

	merged, err := mergeFields(d.desc, data, fields)
	if err != nil {
		return err
	}
	return d.client.Set(ctx, key, merged, 0).Err()
}

// UpdateWhere merges the given fields into every record matching the
// restrictions and reports how many records were rewritten.
func (d *DAO[T]) UpdateWhere(ctx context.Context, r gda.Restrictions, fields map[string]any) (int64, error) {
	matched, err := d.matching(ctx, r)
	if err != nil {
		return 0, err
	}

	var modified int64
	for _, rec := range matched {
		merged, err := mergeFields(d.desc, rec.data, fields)
		if err != nil {
			return modified, err
		}
		if err := d.client.Set(ctx, rec.key, merged, 0).Err(); err != nil {
			return modified, err
		}
		modified++
	}
	return modified, nil
}

// =====================================
// Delete Operations
// =====================================

// Delete removes the entity's key. A nil entity is a no-op.
func (d *DAO[T]) Delete(ctx context.Context, entity *T) error {
	if entity == nil {
		return nil
	}
	return d.client.Del(ctx, d.key(d.id(entity))).Err()
}

// DeleteAll removes the entities one by one, stopping at the first failure.
func (d *DAO[T]) DeleteAll(ctx context.Context, entities []*T) error {
	for _, entity := range entities {
		if err := d.Delete(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// DeleteByID removes the key for the given identifier. Deleting a missing
// key is silent.
func (d *DAO[T]) DeleteByID(ctx context.Context, id any) error {
	return d.client.Del(ctx, d.key(id)).Err()
}

// DeleteByIDs removes the keys one by one, stopping at the first failure.
func (d *DAO[T]) DeleteByIDs(ctx context.Context, ids ...any) error {
	for _, id := range ids {
		if err := d.DeleteByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteWhere removes every record matching the restrictions and reports how
// many keys were deleted.
func (d *DAO[T]) DeleteWhere(ctx context.Context, r gda.Restrictions) (int64, error) {
	matched, err := d.matching(ctx, r)
	if err != nil {
		return 0, err
	}
	if len(matched) == 0 {
		return 0, nil
	}

	keys := make([]string, len(matched))
	for i, rec := range matched {
		keys[i] = rec.key
	}
	return d.client.Del(ctx, keys...).Result()
}

// =====================================
// Read Operations
// =====================================

// Get retrieves the record stored under the identifier's key. A miss returns
// redis.Nil unchanged.
func (d *DAO[T]) Get(ctx context.Context, id any) (*T, error) {
	data, err := d.client.Get(ctx, d.key(id)).Bytes()
	if err != nil {
		return nil, err
	}

	entity := new(T)
	if err := json.Unmarshal(data, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

// List retrieves the records matching the restrictions, windowed by page.
// Results come back in key order, so pages partition the matches.
func (d *DAO[T]) List(ctx context.Context, r gda.Restrictions, page gda.Page) ([]*T, error) {
	matched, err := d.matching(ctx, r)
	if err != nil {
		return nil, err
	}

	lo, hi := page.Bounds(len(matched))
	entities := make([]*T, 0, hi-lo)
	for _, rec := range matched[lo:hi] {
		entity := new(T)
		if err := json.Unmarshal(rec.data, entity); err != nil {
			return nil, fmt.Errorf("gdaredis: decode %s: %w", rec.key, err)
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// Count reports how many records match the restrictions. With no
// restrictions the keys alone answer it, without loading any values.
func (d *DAO[T]) Count(ctx context.Context, r gda.Restrictions) (int64, error) {
	if len(r) == 0 {
		keys, err := d.keys(ctx)
		if err != nil {
			return 0, err
		}
		return int64(len(keys)), nil
	}

	matched, err := d.matching(ctx, r)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// Exists reports whether at least one record matches the restrictions.
func (d *DAO[T]) Exists(ctx context.Context, r gda.Restrictions) (bool, error) {
	count, err := d.Count(ctx, r)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// =====================================
// Redis Supplements
// =====================================

// Client exposes the underlying client for commands the DAO does not cover.
func (d *DAO[T]) Client() *redis.Client {
	return d.client
}

// IsNotFound reports whether err is the Redis miss signal.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}

// =====================================
// Helpers
// =====================================

type record struct {
	key  string
	data []byte
}

func (d *DAO[T]) key(id any) string {
	return fmt.Sprintf("%s:%v", d.desc.Table, id)
}

// keys returns every key under the entity prefix in sorted order.
func (d *DAO[T]) keys(ctx context.Context) ([]string, error) {
	keys, err := d.client.Keys(ctx, d.desc.Table+":*").Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// matching loads every stored record and keeps the ones the restrictions
// accept, in key order.
func (d *DAO[T]) matching(ctx context.Context, r gda.Restrictions) ([]record, error) {
	keys, err := d.keys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := d.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	stored := storedRestrictions(d.desc, r)
	matched := make([]record, 0, len(values))
	for i, value := range values {
		text, ok := value.(string)
		if !ok {
			// The key went away between KEYS and MGET.
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(text), &fields); err != nil {
			return nil, fmt.Errorf("gdaredis: decode %s: %w", keys[i], err)
		}
		if stored.Match(fields) {
			matched = append(matched, record{key: keys[i], data: []byte(text)})
		}
	}
	return matched, nil
}

// mergeFields rewrites a stored JSON record with the updated fields applied.
func mergeFields(desc gda.Descriptor, data []byte, fields map[string]any) ([]byte, error) {
	var recordFields map[string]any
	if err := json.Unmarshal(data, &recordFields); err != nil {
		return nil, err
	}
	for field, value := range fields {
		recordFields[desc.Column(field)] = value
	}
	return json.Marshal(recordFields)
}

// storedRestrictions rewrites restriction keys to their stored JSON names.
func storedRestrictions(desc gda.Descriptor, r gda.Restrictions) gda.Restrictions {
	if len(r) == 0 {
		return r
	}
	stored := make(gda.Restrictions, len(r))
	for field, value := range r {
		stored[desc.Column(field)] = value
	}
	return stored
}
