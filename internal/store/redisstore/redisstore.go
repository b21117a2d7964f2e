// Package redisstore implements store.Backend on Redis.
//
// Key layout, for prefix p:
//
//	p:rec:{type}:{key}   hash: attrs, deferred, slug, delete_time
//	p:keys:{type}        set of keys of the type
//	p:slug:{type}:{slug} string: key holding the live slug
//	p:log:{type}:{key}   list of JSON log messages
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/batteries/internal/model"
	"github.com/roach88/batteries/internal/store"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "batteries"

// Options configures the Redis connection.
type Options struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// Prefix namespaces keys. Defaults to DefaultPrefix.
	Prefix string

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations
	WriteTimeout time.Duration
}

// Store is a Redis-backed record store.
type Store struct {
	client *redis.Client
	prefix string
}

var _ store.Backend = (*Store)(nil)

// Open connects to Redis and verifies the connection.
func Open(opts Options) (*Store, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client, prefix: opts.Prefix}, nil
}

func (s *Store) recKey(typ, key string) string   { return s.prefix + ":rec:" + typ + ":" + key }
func (s *Store) keysKey(typ string) string       { return s.prefix + ":keys:" + typ }
func (s *Store) slugKey(typ, slug string) string { return s.prefix + ":slug:" + typ + ":" + slug }
func (s *Store) logKey(typ, key string) string   { return s.prefix + ":log:" + typ + ":" + key }

// claimSlug points the live slug index at key. It fails with
// model.ErrConflict when another record holds the slug.
func (s *Store) claimSlug(ctx context.Context, row store.Row) (claimed bool, err error) {
	if row.Slug == "" || row.DeleteTime != "" {
		return false, nil
	}
	sk := s.slugKey(row.Type, row.Slug)
	ok, err := s.client.SetNX(ctx, sk, row.Key, 0).Result()
	if err != nil {
		return false, fmt.Errorf("claim slug %q: %w", row.Slug, err)
	}
	if ok {
		return true, nil
	}
	holder, err := s.client.Get(ctx, sk).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("read slug %q: %w", row.Slug, err)
	}
	if holder != row.Key {
		return false, fmt.Errorf("slug %q: %w", row.Slug, model.ErrConflict)
	}
	return false, nil
}

// Insert implements store.Backend.
func (s *Store) Insert(ctx context.Context, e *model.Entity) error {
	row, err := store.EncodeRow(e)
	if err != nil {
		return err
	}
	// Everything that can fail locally runs before the first write.
	logs, err := encodeLogs(e.PendingLogs())
	if err != nil {
		return fmt.Errorf("insert %s: %w", e, err)
	}
	rk := s.recKey(row.Type, row.Key)

	// HSETNX reserves the key; losing the race is a duplicate key.
	created, err := s.client.HSetNX(ctx, rk, "attrs", row.Attrs).Result()
	if err != nil {
		return fmt.Errorf("insert %s: %w", e, err)
	}
	if !created {
		return fmt.Errorf("insert %s: %w", e, model.ErrConflict)
	}
	claimed, err := s.claimSlug(ctx, row)
	if err != nil {
		s.client.Del(ctx, rk)
		return fmt.Errorf("insert %s: %w", e, err)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		s.writeRow(ctx, p, row)
		p.SAdd(ctx, s.keysKey(row.Type), row.Key)
		if len(logs) > 0 {
			p.RPush(ctx, s.logKey(row.Type, row.Key), logs...)
		}
		return nil
	})
	if err != nil {
		s.client.Del(ctx, rk)
		if claimed {
			s.client.Del(ctx, s.slugKey(row.Type, row.Slug))
		}
		return fmt.Errorf("insert %s: %w", e, err)
	}
	return nil
}

// Update implements store.Backend.
func (s *Store) Update(ctx context.Context, e *model.Entity) error {
	if err := store.Prepare(ctx, e); err != nil {
		return err
	}
	row, err := store.EncodeRow(e)
	if err != nil {
		return err
	}
	logs, err := encodeLogs(e.PendingLogs())
	if err != nil {
		return fmt.Errorf("update %s: %w", e, err)
	}
	rk := s.recKey(row.Type, row.Key)

	old, err := s.client.HMGet(ctx, rk, "attrs", "slug", "delete_time").Result()
	if err != nil {
		return fmt.Errorf("update %s: %w", e, err)
	}
	if old[0] == nil {
		return fmt.Errorf("update %s: %w", e, model.ErrNotFound)
	}
	oldSlug, _ := old[1].(string)
	oldDeleted, _ := old[2].(string)

	claimed, err := s.claimSlug(ctx, row)
	if err != nil {
		return fmt.Errorf("update %s: %w", e, err)
	}
	liveSlug := row.Slug
	if row.DeleteTime != "" {
		liveSlug = ""
	}
	release := oldSlug != "" && oldDeleted == "" && oldSlug != liveSlug

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		s.writeRow(ctx, p, row)
		if release {
			p.Del(ctx, s.slugKey(row.Type, oldSlug))
		}
		if len(logs) > 0 {
			p.RPush(ctx, s.logKey(row.Type, row.Key), logs...)
		}
		return nil
	})
	if err != nil {
		if claimed {
			s.client.Del(ctx, s.slugKey(row.Type, row.Slug))
		}
		return fmt.Errorf("update %s: %w", e, err)
	}
	return nil
}

func (s *Store) writeRow(ctx context.Context, p redis.Pipeliner, row store.Row) {
	rk := s.recKey(row.Type, row.Key)
	p.HSet(ctx, rk, "attrs", row.Attrs, "deferred", row.Deferred)
	if row.Slug != "" {
		p.HSet(ctx, rk, "slug", row.Slug)
	} else {
		p.HDel(ctx, rk, "slug")
	}
	if row.DeleteTime != "" {
		p.HSet(ctx, rk, "delete_time", row.DeleteTime)
	} else {
		p.HDel(ctx, rk, "delete_time")
	}
}

// Delete implements store.Backend.
func (s *Store) Delete(ctx context.Context, typ *model.Type, key string) error {
	rk := s.recKey(typ.Name, key)
	old, err := s.client.HMGet(ctx, rk, "attrs", "slug", "delete_time").Result()
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", typ.Name, key, err)
	}
	if old[0] == nil {
		return fmt.Errorf("delete %s %s: %w", typ.Name, key, model.ErrNotFound)
	}
	slug, _ := old[1].(string)
	deleted, _ := old[2].(string)

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, rk, s.logKey(typ.Name, key))
		p.SRem(ctx, s.keysKey(typ.Name), key)
		if slug != "" && deleted == "" {
			p.Del(ctx, s.slugKey(typ.Name, slug))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", typ.Name, key, err)
	}
	return nil
}

// LookupByKey implements store.Backend.
func (s *Store) LookupByKey(ctx context.Context, typ *model.Type, key string) (*model.Entity, error) {
	attrs, err := s.client.HGet(ctx, s.recKey(typ.Name, key), "attrs").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s %s: %w", typ.Name, key, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s %s: %w", typ.Name, key, err)
	}
	return store.DecodeRow(typ, attrs, s)
}

// LookupByAttribute implements store.Backend. Slug lookups go through the
// slug index; other attributes scan the type's key set in key order.
func (s *Store) LookupByAttribute(ctx context.Context, typ *model.Type, attr, value string) (*model.Entity, error) {
	a, ok := typ.Attribute(attr)
	if !ok {
		return nil, model.NewConfigurationError(typ.Name, attr, "attribute is not declared")
	}
	if a.Deferred {
		return nil, model.NewConfigurationError(typ.Name, attr, "deferred attributes cannot be looked up")
	}
	notFound := fmt.Errorf("%s %s=%q: %w", typ.Name, attr, value, model.ErrNotFound)

	switch attr {
	case typ.SlugAttribute():
		key, err := s.client.Get(ctx, s.slugKey(typ.Name, value)).Result()
		if errors.Is(err, redis.Nil) {
			return nil, notFound
		}
		if err != nil {
			return nil, fmt.Errorf("lookup %s slug %q: %w", typ.Name, value, err)
		}
		return s.LookupByKey(ctx, typ, key)
	case typ.KeyAttribute():
		e, err := s.LookupByKey(ctx, typ, value)
		if err != nil {
			return nil, err
		}
		if e.IsDeleted() {
			return nil, notFound
		}
		return e, nil
	}

	keys, err := s.client.SMembers(ctx, s.keysKey(typ.Name)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s keys: %w", typ.Name, err)
	}
	sort.Strings(keys)
	for _, key := range keys {
		vals, err := s.client.HMGet(ctx, s.recKey(typ.Name, key), "attrs", "delete_time").Result()
		if err != nil {
			return nil, fmt.Errorf("lookup %s %s: %w", typ.Name, key, err)
		}
		raw, _ := vals[0].(string)
		if raw == "" || vals[1] != nil {
			continue
		}
		match, err := store.MatchAttr([]byte(raw), attr, value)
		if err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", typ.Name, key, err)
		}
		if match {
			return store.DecodeRow(typ, []byte(raw), s)
		}
	}
	return nil, notFound
}

// LoadDeferred implements model.DeferredLoader.
func (s *Store) LoadDeferred(ctx context.Context, typ *model.Type, key string) (map[string]any, error) {
	vals, err := s.client.HMGet(ctx, s.recKey(typ.Name, key), "attrs", "deferred").Result()
	if err != nil {
		return nil, fmt.Errorf("load deferred %s %s: %w", typ.Name, key, err)
	}
	if vals[0] == nil {
		return nil, fmt.Errorf("%s %s: %w", typ.Name, key, model.ErrNotFound)
	}
	raw, _ := vals[1].(string)
	return store.DecodeJSON([]byte(raw))
}

// Logs implements store.Backend.
func (s *Store) Logs(ctx context.Context, typ *model.Type, key string) ([]model.LogMessage, error) {
	items, err := s.client.LRange(ctx, s.logKey(typ.Name, key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read logs %s %s: %w", typ.Name, key, err)
	}
	msgs := make([]model.LogMessage, 0, len(items))
	for _, item := range items {
		var m model.LogMessage
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode log message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func encodeLogs(msgs []model.LogMessage) ([]any, error) {
	out := make([]any, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encode log message: %w", err)
		}
		out = append(out, data)
	}
	return out, nil
}
