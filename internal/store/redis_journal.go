package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/duke-git/lancet/v2/slice"
	"github.com/redis/go-redis/v9"

	"yqhp/work-queue/pkg/types"
)

// RedisJournal keeps one hash per queue: field = task id, value = JSON task.
type RedisJournal struct {
	client *redis.Client
	key    string
}

// NewRedisJournal wraps an existing client. prefix namespaces the hash key.
func NewRedisJournal(client *redis.Client, prefix string) *RedisJournal {
	if prefix == "" {
		prefix = "wq"
	}
	return &RedisJournal{client: client, key: prefix + ":tasks"}
}

// OpenRedisJournal connects to redis and checks the connection.
func OpenRedisJournal(ctx context.Context, addr, password string, db int, prefix string) (*RedisJournal, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedisJournal(client, prefix), nil
}

// Key returns the hash key holding the records.
func (j *RedisJournal) Key() string {
	return j.key
}

func (j *RedisJournal) Record(ctx context.Context, task *types.Task) error {
	data, err := sonic.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %d: %w", task.ID, err)
	}
	return j.client.HSet(ctx, j.key, strconv.FormatUint(task.ID, 10), data).Err()
}

func (j *RedisJournal) Delete(ctx context.Context, id uint64) error {
	return j.client.HDel(ctx, j.key, strconv.FormatUint(id, 10)).Err()
}

func (j *RedisJournal) Load(ctx context.Context) ([]*types.Task, error) {
	fields, err := j.client.HGetAll(ctx, j.key).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*types.Task, 0, len(fields))
	for field, value := range fields {
		t := &types.Task{}
		if err := sonic.UnmarshalString(value, t); err != nil {
			return nil, fmt.Errorf("decode task %s: %w", field, err)
		}
		out = append(out, t)
	}
	slice.SortBy(out, func(a, b *types.Task) bool { return a.ID < b.ID })
	return out, nil
}

func (j *RedisJournal) Close() error {
	return j.client.Close()
}
