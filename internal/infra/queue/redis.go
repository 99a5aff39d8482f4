package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"pathledger/internal/domain"
)

const (
	defaultRedisPrefix = "pathledger:anchor"
	dequeuePoll        = 5 * time.Second
)

type redisQueue struct {
	client     *redis.Client
	listKey    string
	pendingKey string
}

// Pushes only when the id was not already pending, so concurrent
// ingests of the same reading produce one job.
var redisEnqueueScript = redis.NewScript(`
if redis.call("SADD", KEYS[2], ARGV[1]) == 1 then
  redis.call("LPUSH", KEYS[1], ARGV[2])
  return 1
end
return 0
`)

func NewRedisQueue(addr, password string, db int, prefix string) (domain.AnchorQueue, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &redisQueue{
		client:     client,
		listKey:    prefix + ":jobs",
		pendingKey: prefix + ":pending",
	}, nil
}

func (q *redisQueue) Enqueue(ctx context.Context, job domain.AnchorJob) error {
	if job.MessageID == "" {
		return errors.New("job message_id is required")
	}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return redisEnqueueScript.Run(ctx, q.client, []string{q.listKey, q.pendingKey}, job.MessageID, string(body)).Err()
}

func (q *redisQueue) Dequeue(ctx context.Context) (domain.AnchorJob, error) {
	for {
		result, err := q.client.BRPop(ctx, dequeuePoll, q.listKey).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return domain.AnchorJob{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return domain.AnchorJob{}, ctx.Err()
			}
			return domain.AnchorJob{}, err
		}
		if len(result) != 2 {
			return domain.AnchorJob{}, errors.New("unexpected redis pop response")
		}
		var job domain.AnchorJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			return domain.AnchorJob{}, err
		}
		return job, nil
	}
}

func (q *redisQueue) Done(ctx context.Context, job domain.AnchorJob) error {
	return q.client.SRem(ctx, q.pendingKey, job.MessageID).Err()
}
