package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a durable, cross-process Queue backed by one Redis list
// per lane (LPUSH to enqueue, BRPOP to dequeue) and a hash holding the
// in-flight set for Nack/redelivery. Dequeue pops the job and records it
// as in-flight in separate commands, so the two steps are not atomic.
type RedisQueue struct {
	client *redis.Client
	prefix string
}

// NewRedisQueue constructs a RedisQueue. prefix namespaces keys so
// multiple environments can share a Redis instance.
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "gorax:jobqueue"
	}
	return &RedisQueue{client: client, prefix: prefix}
}

func (q *RedisQueue) laneKey(lane string) string {
	return fmt.Sprintf("%s:lane:%s", q.prefix, lane)
}

func (q *RedisQueue) inFlightKey(lane string) string {
	return fmt.Sprintf("%s:inflight:%s", q.prefix, lane)
}

func (q *RedisQueue) receiptKey(receipt string) string {
	return fmt.Sprintf("%s:receipt:%s", q.prefix, receipt)
}

// Enqueue LPUSHes the job's JSON encoding onto its lane list.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.laneKey(job.Lane), payload).Err()
}

// Dequeue blocks (via BRPOP, polling with a timeout so ctx cancellation
// is observed) for a job on lane, then records it in-flight under a
// fresh receipt token for Ack/Nack.
func (q *RedisQueue) Dequeue(ctx context.Context, lane string) (Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Delivery{}, err
		}
		result, err := q.client.BRPop(ctx, 2*time.Second, q.laneKey(lane)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return Delivery{}, err
		}
		if len(result) != 2 {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			return Delivery{}, err
		}
		receipt := newReceipt()
		if err := q.client.Set(ctx, q.receiptKey(receipt), result[1], 0).Err(); err != nil {
			return Delivery{}, err
		}
		if err := q.client.HSet(ctx, q.inFlightKey(lane), receipt, result[1]).Err(); err != nil {
			return Delivery{}, err
		}
		return Delivery{Job: job, Receipt: receipt}, nil
	}
}

// Ack clears the in-flight record for the delivery.
func (q *RedisQueue) Ack(ctx context.Context, d Delivery) error {
	pipe := q.client.TxPipeline()
	pipe.Del(ctx, q.receiptKey(d.Receipt))
	pipe.HDel(ctx, q.inFlightKey(d.Job.Lane), d.Receipt)
	_, err := pipe.Exec(ctx)
	return err
}

// Nack clears the in-flight record and re-pushes the job for
// redelivery.
func (q *RedisQueue) Nack(ctx context.Context, d Delivery) error {
	pipe := q.client.TxPipeline()
	pipe.Del(ctx, q.receiptKey(d.Receipt))
	pipe.HDel(ctx, q.inFlightKey(d.Job.Lane), d.Receipt)
	payload, err := json.Marshal(d.Job)
	if err != nil {
		return err
	}
	pipe.LPush(ctx, q.laneKey(d.Job.Lane), payload)
	_, err = pipe.Exec(ctx)
	return err
}

// Info reports the lane's list length and in-flight hash size.
func (q *RedisQueue) Info(ctx context.Context, lane string) (Info, error) {
	depth, err := q.client.LLen(ctx, q.laneKey(lane)).Result()
	if err != nil {
		return Info{}, err
	}
	inFlight, err := q.client.HLen(ctx, q.inFlightKey(lane)).Result()
	if err != nil {
		return Info{}, err
	}
	return Info{Lane: lane, Depth: int(depth), InFlight: int(inFlight)}, nil
}

// Close releases the underlying Redis client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
