package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type memQueue struct {
	ready    []*Delivery
	inflight map[string]*Delivery
	signal   chan struct{}
}

// Memory is an in-process Broker. It keeps the same ownership rules as the
// Redis broker so pipeline behavior can be exercised without a server.
type Memory struct {
	mu           sync.Mutex
	queues       map[string]*memQueue
	seq          int64
	pollInterval time.Duration
}

func NewMemory() *Memory {
	return &Memory{
		queues:       make(map[string]*memQueue),
		pollInterval: time.Second,
	}
}

// WithPollInterval sets how long Consume waits before returning ErrNoDelivery.
func (m *Memory) WithPollInterval(d time.Duration) *Memory {
	m.pollInterval = d
	return m
}

func (m *Memory) queue(name string) *memQueue {
	q, ok := m.queues[name]
	if !ok {
		q = &memQueue{inflight: make(map[string]*Delivery), signal: make(chan struct{})}
		m.queues[name] = q
	}
	return q
}

// push must be called with m.mu held.
func (m *Memory) push(name string, body []byte, redelivered bool) {
	m.seq++
	q := m.queue(name)
	q.ready = append(q.ready, &Delivery{
		ID:          strconv.FormatInt(m.seq, 10),
		Queue:       name,
		Body:        append([]byte(nil), body...),
		Redelivered: redelivered,
	})
	close(q.signal)
	q.signal = make(chan struct{})
}

func (m *Memory) Declare(ctx context.Context, q Queue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue(q.Name)
	if q.DeadLetter != "" {
		m.queue(q.DeadLetter)
	}
	return nil
}

func (m *Memory) Publish(ctx context.Context, queue string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.push(queue, body, false)
	return nil
}

func (m *Memory) Consume(ctx context.Context, q Queue) (*Delivery, error) {
	timer := time.NewTimer(m.pollInterval)
	defer timer.Stop()

	for {
		m.mu.Lock()
		mq := m.queue(q.Name)
		if len(mq.ready) > 0 {
			d := mq.ready[0]
			mq.ready = mq.ready[1:]
			mq.inflight[d.ID] = d
			m.mu.Unlock()
			return d, nil
		}
		signal := mq.signal
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrNoDelivery
		case <-signal:
		}
	}
}

func (m *Memory) take(q Queue, d *Delivery) error {
	mq := m.queue(q.Name)
	if _, ok := mq.inflight[d.ID]; !ok {
		return fmt.Errorf("queue %s: delivery %s is not in flight", q.Name, d.ID)
	}
	delete(mq.inflight, d.ID)
	return nil
}

func (m *Memory) Ack(ctx context.Context, q Queue, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.take(q, d)
}

func (m *Memory) Nack(ctx context.Context, q Queue, d *Delivery, requeue bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take(q, d); err != nil {
		return err
	}

	switch {
	case requeue:
		m.push(q.Name, d.Body, true)
	case q.DeadLetter != "":
		m.push(q.DeadLetter, d.Body, false)
	}
	return nil
}

// Recover hands every in-flight delivery of queue back out, as a broker does
// when the owning consumer's connection dies.
func (m *Memory) Recover(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	mq := m.queue(queue)
	n := len(mq.inflight)
	for id, d := range mq.inflight {
		delete(mq.inflight, id)
		m.push(queue, d.Body, true)
	}
	return n
}

// Len returns the number of deliveries waiting on queue.
func (m *Memory) Len(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue(queue).ready)
}

// InFlight returns the number of unacknowledged deliveries of queue.
func (m *Memory) InFlight(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue(queue).inflight)
}
