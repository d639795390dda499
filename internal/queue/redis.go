package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const bodyField = "body"

type RedisOptions struct {
	// Consumer identifies this process inside every consumer group.
	Consumer string
	// Block bounds how long Consume waits for a new entry.
	Block time.Duration
	// ClaimIdle is how long an entry may stay unacknowledged before another
	// consumer takes it over. Zero disables reclaiming.
	ClaimIdle time.Duration
}

// Redis is a Broker over Redis Streams. Each queue is a stream read through
// a consumer group; pending entries are the in-flight deliveries.
type Redis struct {
	client *redis.Client
	opts   RedisOptions
}

func NewRedis(client *redis.Client, opts RedisOptions) *Redis {
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	return &Redis{client: client, opts: opts}
}

func (r *Redis) Declare(ctx context.Context, q Queue) error {
	err := r.client.XGroupCreateMkStream(ctx, q.Name, q.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("declaring %s/%s: %w", q.Name, q.Group, err)
	}
	return nil
}

func (r *Redis) Publish(ctx context.Context, queue string, body []byte) error {
	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: queue,
		Values: map[string]interface{}{bodyField: string(body)},
	}).Err()
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", queue, err)
	}
	return nil
}

func (r *Redis) Consume(ctx context.Context, q Queue) (*Delivery, error) {
	if r.opts.ClaimIdle > 0 {
		d, err := r.reclaim(ctx, q)
		if err != nil || d != nil {
			return d, err
		}
	}

	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.Group,
		Consumer: r.opts.Consumer,
		Streams:  []string{q.Name, ">"},
		Count:    1,
		Block:    r.opts.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoDelivery
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("reading %s: %w", q.Name, err)
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			return toDelivery(stream.Stream, msg, false), nil
		}
	}
	return nil, ErrNoDelivery
}

// reclaim takes over one entry another consumer left pending for longer
// than ClaimIdle.
func (r *Redis) reclaim(ctx context.Context, q Queue) (*Delivery, error) {
	msgs, _, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.Name,
		Group:    q.Group,
		Consumer: r.opts.Consumer,
		MinIdle:  r.opts.ClaimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reclaiming from %s: %w", q.Name, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return toDelivery(q.Name, msgs[0], true), nil
}

func toDelivery(stream string, msg redis.XMessage, redelivered bool) *Delivery {
	body, _ := msg.Values[bodyField].(string)
	return &Delivery{
		ID:          msg.ID,
		Queue:       stream,
		Body:        []byte(body),
		Redelivered: redelivered,
	}
}

func (r *Redis) Ack(ctx context.Context, q Queue, d *Delivery) error {
	if err := r.client.XAck(ctx, q.Name, q.Group, d.ID).Err(); err != nil {
		return fmt.Errorf("acking %s on %s: %w", d.ID, q.Name, err)
	}
	return nil
}

// Nack re-adds the body to the target stream and acknowledges the original
// entry in one MULTI block.
func (r *Redis) Nack(ctx context.Context, q Queue, d *Delivery, requeue bool) error {
	target := q.Name
	if !requeue {
		target = q.DeadLetter
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if target != "" {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: target,
				Values: map[string]interface{}{bodyField: string(d.Body)},
			})
		}
		pipe.XAck(ctx, q.Name, q.Group, d.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("nacking %s on %s: %w", d.ID, q.Name, err)
	}
	return nil
}
