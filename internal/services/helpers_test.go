package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/ridhamxdev/TaskNexus/internal/audit"
	"github.com/ridhamxdev/TaskNexus/internal/cache"
	"github.com/ridhamxdev/TaskNexus/internal/models"
	"github.com/ridhamxdev/TaskNexus/internal/queue"
	"github.com/ridhamxdev/TaskNexus/internal/store"
	"github.com/ridhamxdev/TaskNexus/internal/testutil"
)

func nullLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

type sentMail struct {
	To, Subject, Text, HTML string
}

// fakeTransport records deliveries. failFor decides, per recipient and call
// number (starting at 1), whether the attempt fails. Call number blockOn
// waits for its context instead of answering.
type fakeTransport struct {
	mu      sync.Mutex
	calls   map[string]int
	sent    []sentMail
	failFor func(to string, call int) error
	blockOn int
	blocked chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{calls: make(map[string]int), blocked: make(chan struct{}, 1)}
}

func (f *fakeTransport) Deliver(ctx context.Context, to, subject, text, html string) error {
	f.mu.Lock()
	f.calls[to]++
	call := f.calls[to]
	if f.blockOn != 0 && call == f.blockOn {
		f.mu.Unlock()
		f.blocked <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	defer f.mu.Unlock()

	if f.failFor != nil {
		if err := f.failFor(to, call); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sentMail{To: to, Subject: subject, Text: text, HTML: html})
	return nil
}

func (f *fakeTransport) Calls(to string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[to]
}

func (f *fakeTransport) Sent() []sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMail(nil), f.sent...)
}

var errMailboxUnavailable = errors.New("550 mailbox unavailable")

type pipeline struct {
	store      *store.Store
	broker     *queue.Memory
	topology   queue.Topology
	cache      *cache.Memory
	views      *MessageView
	dispatcher *Dispatcher
	worker     *Worker
	reconciler *Reconciler
	transport  *fakeTransport
	sender     *models.Account
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	st, _ := testutil.NewSQLiteStore(t)
	log := nullLogger()
	p := &pipeline{
		store:     st,
		broker:    queue.NewMemory().WithPollInterval(10 * time.Millisecond),
		topology:  queue.NewTopology("messages:outbound", "messages:dead", "workers", "reconciler"),
		cache:     cache.NewMemory(),
		transport: newFakeTransport(),
	}
	require.NoError(t, p.topology.Declare(context.Background(), p.broker))

	auditor := audit.NewLogger(log)
	p.views = NewMessageView(st, p.cache, time.Hour, 10, log)
	p.dispatcher = NewDispatcher(st, p.broker, p.topology.Outbound, p.cache, time.Second, log)
	p.worker = NewWorker(st, p.broker, p.topology.Outbound, p.transport, p.views, auditor, WorkerOptions{
		MaxRetries:      3,
		DeliveryTimeout: time.Second,
	}, log)
	p.reconciler = NewReconciler(st, p.broker, p.topology.DeadLetter, p.views, auditor, log)
	p.sender = testutil.CreateAccount(t, st, "bank", models.RoleCollector, "0")
	return p
}

func (p *pipeline) enqueue(t *testing.T, recipient string) *models.Message {
	t.Helper()
	msg, err := p.dispatcher.Enqueue(context.Background(), EnqueueRequest{
		SenderAccountID: p.sender.ID,
		Recipient:       recipient,
		Subject:         "Daily deduction processed",
		Body:            "50.00 was deducted",
	})
	require.NoError(t, err)
	return msg
}

// drain handles outbound deliveries one at a time until the queue is empty
// and returns how many were handled.
func (p *pipeline) drain(t *testing.T) int {
	t.Helper()
	return drainQueue(t, p.broker, p.topology.Outbound, p.worker.Handle)
}

func (p *pipeline) drainDeadLetters(t *testing.T) int {
	t.Helper()
	return drainQueue(t, p.broker, p.topology.DeadLetter, p.reconciler.Handle)
}

func drainQueue(t *testing.T, b queue.Broker, q queue.Queue, handle func(context.Context, *queue.Delivery) error) int {
	t.Helper()
	ctx := context.Background()
	handled := 0
	for {
		d, err := b.Consume(ctx, q)
		if errors.Is(err, queue.ErrNoDelivery) {
			return handled
		}
		require.NoError(t, err)
		require.NoError(t, handle(ctx, d))
		handled++
	}
}

func (p *pipeline) reload(t *testing.T, id int64) *models.Message {
	t.Helper()
	msg, err := p.store.GetMessage(context.Background(), id)
	require.NoError(t, err)
	return msg
}
