package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/agentgraph/types"
)

// decrFloor decrements a load counter without letting it drop below zero.
var decrFloor = redis.NewScript(`
local v = tonumber(redis.call('GET', KEYS[1]) or '0')
if v > 0 then
  return redis.call('DECR', KEYS[1])
end
return 0
`)

// RedisRegistry is a Registry backed by Redis, for deployments where
// several processes share one participant directory. Participants live in
// a hash, registration order in a list, and load counters in plain keys
// so increments stay atomic across processes.
type RedisRegistry struct {
	client *redis.Client
	prefix string
}

func NewRedisRegistry(client *redis.Client, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = "agentgraph:registry"
	}
	return &RedisRegistry{client: client, prefix: prefix}
}

func (r *RedisRegistry) hashKey() string          { return r.prefix + ":participants" }
func (r *RedisRegistry) orderKey() string         { return r.prefix + ":order" }
func (r *RedisRegistry) loadKey(id string) string { return fmt.Sprintf("%s:load:%s", r.prefix, id) }

func (r *RedisRegistry) Register(ctx context.Context, p types.Participant) error {
	if p.ID == "" {
		return types.NewError(types.ErrValidation, "participant id is empty")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return types.NewError(types.ErrValidation, "encode participant").WithCause(err)
	}
	existed, err := r.client.HExists(ctx, r.hashKey(), p.ID).Result()
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.hashKey(), p.ID, data)
	if !existed {
		pipe.RPush(ctx, r.orderKey(), p.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisRegistry) Unregister(ctx context.Context, id string) error {
	removed, err := r.client.HDel(ctx, r.hashKey(), id).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return notFound(id)
	}
	pipe := r.client.TxPipeline()
	pipe.LRem(ctx, r.orderKey(), 0, id)
	pipe.Del(ctx, r.loadKey(id))
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (*types.Participant, error) {
	data, err := r.client.HGet(ctx, r.hashKey(), id).Result()
	if err == redis.Nil {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, err
	}
	var p types.Participant
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, types.NewError(types.ErrValidation, "decode participant").WithCause(err)
	}
	return &p, nil
}

func (r *RedisRegistry) List(ctx context.Context) ([]types.Participant, error) {
	ids, err := r.client.LRange(ctx, r.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]types.Participant, 0, len(ids))
	for _, id := range ids {
		p, err := r.Get(ctx, id)
		if err != nil {
			if types.IsCode(err, types.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

func (r *RedisRegistry) FindByCapabilities(ctx context.Context, required []string) ([]types.Participant, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.Participant
	for _, p := range all {
		if HasAll(p, required) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *RedisRegistry) IncrementLoad(ctx context.Context, id string) error {
	if err := r.mustExist(ctx, id); err != nil {
		return err
	}
	return r.client.Incr(ctx, r.loadKey(id)).Err()
}

func (r *RedisRegistry) DecrementLoad(ctx context.Context, id string) error {
	if err := r.mustExist(ctx, id); err != nil {
		return err
	}
	return decrFloor.Run(ctx, r.client, []string{r.loadKey(id)}).Err()
}

func (r *RedisRegistry) CurrentLoad(ctx context.Context, id string) (int, error) {
	if err := r.mustExist(ctx, id); err != nil {
		return 0, err
	}
	v, err := r.client.Get(ctx, r.loadKey(id)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

func (r *RedisRegistry) mustExist(ctx context.Context, id string) error {
	ok, err := r.client.HExists(ctx, r.hashKey(), id).Result()
	if err != nil {
		return err
	}
	if !ok {
		return notFound(id)
	}
	return nil
}
