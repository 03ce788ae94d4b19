package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"

	"obs-showctl/internal/model"
)

const scanCount = 100

// RedisRepo stores shows and instances as JSON values under
// <prefix>:show:<name> and <prefix>:instance:<id>.
type RedisRepo struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRepo(ctx context.Context, addr, prefix string) (*RedisRepo, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable("ping redis", err)
	}
	return NewRedisRepoFromClient(client, prefix), nil
}

func NewRedisRepoFromClient(client redis.UniversalClient, prefix string) *RedisRepo {
	if prefix == "" {
		prefix = "showctl"
	}
	return &RedisRepo{client: client, prefix: prefix}
}

func (r *RedisRepo) showKey(name string) string { return r.prefix + ":show:" + name }

func (r *RedisRepo) instanceKey(id string) string { return r.prefix + ":instance:" + id }

func (r *RedisRepo) ListShowNames(ctx context.Context) ([]string, error) {
	return r.listSuffixes(ctx, r.showKey(""))
}

func (r *RedisRepo) GetShow(ctx context.Context, name string) (*model.Show, error) {
	var show model.Show
	if err := r.getJSON(ctx, r.showKey(name), &show); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%w: show %s", model.ErrNotFound, name)
		}
		return nil, err
	}
	if show.Targets == nil {
		show.Targets = []model.TargetState{}
	}
	return &show, nil
}

func (r *RedisRepo) CreateShow(ctx context.Context, show *model.Show) error {
	if err := show.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(show)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, r.showKey(show.Name), b, 0).Result()
	if err != nil {
		return unavailable("create show", err)
	}
	if !ok {
		return fmt.Errorf("%w: show %s", model.ErrAlreadyExists, show.Name)
	}
	return nil
}

// replaceRetries bounds optimistic retries when a watched key changes.
const replaceRetries = 5

// ReplaceShow watches the old and new keys so a concurrent create, rename
// or delete aborts the transaction and the checks run again.
func (r *RedisRepo) ReplaceShow(ctx context.Context, name string, show *model.Show) error {
	if err := show.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(show)
	if err != nil {
		return err
	}
	oldKey, newKey := r.showKey(name), r.showKey(show.Name)

	replace := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, oldKey).Result()
		if err != nil {
			return unavailable("lookup show", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: show %s", model.ErrNotFound, name)
		}
		if newKey != oldKey {
			taken, err := tx.Exists(ctx, newKey).Result()
			if err != nil {
				return unavailable("lookup show", err)
			}
			if taken > 0 {
				return fmt.Errorf("%w: show %s", model.ErrAlreadyExists, show.Name)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if newKey != oldKey {
				pipe.Del(ctx, oldKey)
			}
			pipe.Set(ctx, newKey, b, 0)
			return nil
		})
		return err
	}

	for i := 0; i < replaceRetries; i++ {
		err = r.client.Watch(ctx, replace, oldKey, newKey)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrAlreadyExists), errors.Is(err, model.ErrStoreUnavailable):
			return err
		default:
			return unavailable("replace show", err)
		}
	}
	return unavailable("replace show", err)
}

func (r *RedisRepo) DeleteShow(ctx context.Context, name string) error {
	n, err := r.client.Del(ctx, r.showKey(name)).Result()
	if err != nil {
		return unavailable("delete show", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: show %s", model.ErrNotFound, name)
	}
	return nil
}

func (r *RedisRepo) ListInstances(ctx context.Context) ([]model.Instance, error) {
	ids, err := r.listSuffixes(ctx, r.instanceKey(""))
	if err != nil {
		return nil, err
	}
	out := make([]model.Instance, 0, len(ids))
	for _, id := range ids {
		var inst model.Instance
		if err := r.getJSON(ctx, r.instanceKey(id), &inst); err != nil {
			// deleted between SCAN and GET
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

func (r *RedisRepo) SaveInstance(ctx context.Context, inst model.Instance) error {
	if err := inst.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(inst)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.instanceKey(inst.ID), b, 0).Err(); err != nil {
		return unavailable("save instance", err)
	}
	return nil
}

func (r *RedisRepo) DeleteInstance(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, r.instanceKey(id)).Result()
	if err != nil {
		return unavailable("delete instance", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: instance %s", model.ErrNotFound, id)
	}
	return nil
}

func (r *RedisRepo) Close() error {
	return r.client.Close()
}

// listSuffixes walks the keyspace with SCAN and returns the sorted, unique
// key suffixes after prefix.
func (r *RedisRepo) listSuffixes(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]bool)
	it := r.client.Scan(ctx, 0, prefix+"*", scanCount).Iterator()
	for it.Next(ctx) {
		if k := it.Val(); strings.HasPrefix(k, prefix) {
			seen[strings.TrimPrefix(k, prefix)] = true
		}
	}
	if err := it.Err(); err != nil {
		return nil, unavailable("scan keys", err)
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (r *RedisRepo) getJSON(ctx context.Context, key string, v any) error {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.ErrNotFound
	}
	if err != nil {
		return unavailable("get "+key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return unavailable("decode "+key, err)
	}
	return nil
}
