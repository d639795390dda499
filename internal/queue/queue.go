// Package queue abstracts the durable broker used by the message pipeline.
//
// A Broker hands out one delivery at a time per Consume call. A delivery
// stays owned by the consumer until it is acknowledged or negatively
// acknowledged; deliveries abandoned by a dead consumer are handed out again.
package queue

import (
	"context"
	"errors"
)

// ErrNoDelivery is returned by Consume when nothing arrived within the poll
// window.
var ErrNoDelivery = errors.New("queue: no delivery available")

// Queue names a durable queue, the consumer group reading it and the queue
// that receives deliveries rejected without requeue.
type Queue struct {
	Name       string
	Group      string
	DeadLetter string
}

type Delivery struct {
	ID          string
	Queue       string
	Body        []byte
	Redelivered bool
}

type Broker interface {
	// Declare creates the queue and its consumer group if needed.
	Declare(ctx context.Context, q Queue) error
	Publish(ctx context.Context, queue string, body []byte) error
	Consume(ctx context.Context, q Queue) (*Delivery, error)
	Ack(ctx context.Context, q Queue, d *Delivery) error
	// Nack with requeue puts the body back on q. Without requeue the body is
	// routed to q.DeadLetter, or dropped when none is configured.
	Nack(ctx context.Context, q Queue, d *Delivery, requeue bool) error
}

// Topology is the queue pair used by the message pipeline.
type Topology struct {
	Outbound   Queue
	DeadLetter Queue
}

func NewTopology(outbound, deadLetter, workerGroup, reconcilerGroup string) Topology {
	return Topology{
		Outbound:   Queue{Name: outbound, Group: workerGroup, DeadLetter: deadLetter},
		DeadLetter: Queue{Name: deadLetter, Group: reconcilerGroup},
	}
}

// Declare declares both queues.
func (t Topology) Declare(ctx context.Context, b Broker) error {
	if err := b.Declare(ctx, t.Outbound); err != nil {
		return err
	}
	return b.Declare(ctx, t.DeadLetter)
}
