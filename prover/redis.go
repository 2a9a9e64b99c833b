package prover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veilstate/veilstate/storage"
	"github.com/veilstate/veilstate/types"
)

// Redis key layout of the proving queue. Jobs wait as JSON blobs on a list;
// reserved jobs move to a hash keyed by job ID so a crashed worker's
// reservation can be released; results land on their own hash.
const (
	redisPendingKey  = "veilstate_proof_pending"
	redisReservedKey = "veilstate_proof_reserved"
	redisResultsKey  = "veilstate_proof_results"

	redisResultTTL = 24 * time.Hour
)

// RedisQueue is the multi-process variant of the proving queue. Several
// engine or worker processes can share one Redis instance; the reservation
// hash gives the same at-most-one-worker semantics as the db queue.
type RedisQueue struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisQueue connects to the Redis instance behind the URL and verifies
// it is reachable before returning.
func NewRedisQueue(redisURL string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cannot parse redis URL: %w", err)
	}
	opts.DialTimeout = 10 * time.Second
	opts.ReadTimeout = 30 * time.Second
	opts.MaxRetries = 3

	client := redis.NewClient(opts)
	ctx := context.Background()
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("cannot connect to redis: %w", err)
	}
	return &RedisQueue{client: client, ctx: ctx}, nil
}

func (q *RedisQueue) Push(job *storage.ProofJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode proof job: %w", err)
	}
	return q.client.RPush(q.ctx, redisPendingKey, data).Err()
}

func (q *RedisQueue) Next() (*storage.ProofJob, error) {
	data, err := q.client.LPop(q.ctx, redisPendingKey).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, storage.ErrNoMoreElements
	case err != nil:
		return nil, err
	}
	job := &storage.ProofJob{}
	if err := json.Unmarshal(data, job); err != nil {
		return nil, fmt.Errorf("decode proof job: %w", err)
	}
	if err := q.client.HSet(q.ctx, redisReservedKey, job.ID.String(), data).Err(); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *RedisQueue) Done(res *storage.ProofResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode proof result: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.HDel(q.ctx, redisReservedKey, res.JobID.String())
	pipe.HSet(q.ctx, redisResultsKey, res.JobID.String(), data)
	pipe.Expire(q.ctx, redisResultsKey, redisResultTTL)
	_, err = pipe.Exec(q.ctx)
	return err
}

func (q *RedisQueue) Failed(job *storage.ProofJob, cause error) error {
	return q.Done(&storage.ProofResult{
		JobID:       job.ID,
		Instance:    job.Instance,
		Version:     job.Version,
		Error:       cause.Error(),
		CompletedAt: time.Now().UTC(),
	})
}

// Release re-enqueues a reserved job at the front of the pending list.
func (q *RedisQueue) Release(jobID types.HexBytes) error {
	data, err := q.client.HGet(q.ctx, redisReservedKey, jobID.String()).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil
	case err != nil:
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.HDel(q.ctx, redisReservedKey, jobID.String())
	pipe.LPush(q.ctx, redisPendingKey, data)
	_, err = pipe.Exec(q.ctx)
	return err
}

// Result returns the stored outcome of a consumed job, or
// storage.ErrNotFound while the job is still in flight.
func (q *RedisQueue) Result(jobID types.HexBytes) (*storage.ProofResult, error) {
	data, err := q.client.HGet(q.ctx, redisResultsKey, jobID.String()).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, storage.ErrNotFound
	case err != nil:
		return nil, err
	}
	res := &storage.ProofResult{}
	if err := json.Unmarshal(data, res); err != nil {
		return nil, fmt.Errorf("decode proof result: %w", err)
	}
	return res, nil
}

// Close releases the Redis connection pool.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
