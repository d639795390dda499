package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ridhamxdev/TaskNexus/internal/audit"
	"github.com/ridhamxdev/TaskNexus/internal/models"
	"github.com/ridhamxdev/TaskNexus/internal/store"
	"github.com/ridhamxdev/TaskNexus/internal/testutil"
)

var batchDay = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newBatchJob(st LedgerStore, notifier Notifier) *BatchJob {
	log := nullLogger()
	return NewBatchJob(st, notifier, decimal.RequireFromString("50"), time.UTC, audit.NewLogger(log), log)
}

func balanceOf(t *testing.T, st *store.Store, id int64) string {
	t.Helper()
	acct, err := st.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acct.Balance.StringFixed(2)
}

func totalBalance(t *testing.T, db *sql.DB) decimal.Decimal {
	t.Helper()
	rows, err := db.Query(`SELECT balance FROM accounts`)
	require.NoError(t, err)
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var b decimal.Decimal
		require.NoError(t, rows.Scan(&b))
		total = total.Add(b)
	}
	require.NoError(t, rows.Err())
	return total
}

func TestBatchIDFor(t *testing.T) {
	assert.Equal(t, "daily_2024-03-01", BatchIDFor(batchDay))
	assert.Equal(t, "marker_daily_2024-03-01", MarkerReference(BatchIDFor(batchDay)))

	late := time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)
	tokyo := time.FixedZone("JST", 9*60*60)
	assert.Equal(t, "daily_2024-03-02", BatchIDFor(late.In(tokyo)))
}

func TestBatchJob_Run(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	a := testutil.CreateAccount(t, p.store, "ana", models.RoleOrdinary, "40.00")
	b := testutil.CreateAccount(t, p.store, "ben", models.RoleOrdinary, "60.00")
	c := testutil.CreateAccount(t, p.store, "cai", models.RoleOrdinary, "100.00")

	job := newBatchJob(p.store, p.dispatcher)
	result, err := job.Run(ctx, batchDay)
	require.NoError(t, err)

	assert.Equal(t, "daily_2024-03-01", result.BatchID)
	assert.Equal(t, BatchCompleted, result.Status)
	assert.Equal(t, 2, result.ProcessedCount)
	assert.Equal(t, 1, result.SkippedCount)
	assert.Equal(t, "100.00", result.TotalMoved.StringFixed(2))
	assert.Equal(t, 0, result.NotificationsFailed)

	assert.Equal(t, "40.00", balanceOf(t, p.store, a.ID))
	assert.Equal(t, "10.00", balanceOf(t, p.store, b.ID))
	assert.Equal(t, "50.00", balanceOf(t, p.store, c.ID))
	assert.Equal(t, "100.00", balanceOf(t, p.store, p.sender.ID))

	entries, err := p.store.ListBatchEntries(ctx, result.BatchID)
	require.NoError(t, err)
	kinds := map[models.EntryKind]int{}
	for _, e := range entries {
		kinds[e.Kind]++
		assert.Equal(t, result.BatchID, e.BatchID.String)
	}
	assert.Equal(t, map[models.EntryKind]int{
		models.EntryKindDebit:  2,
		models.EntryKindCredit: 1,
		models.EntryKindMarker: 1,
	}, kinds)

	// two deduction notices and the collector summary
	assert.Equal(t, 3, p.broker.Len(p.topology.Outbound.Name))
	assert.Equal(t, 3, p.drain(t))
	recipients := map[string]bool{}
	for _, m := range p.transport.Sent() {
		recipients[m.To] = true
	}
	assert.Equal(t, map[string]bool{"ben@example.com": true, "cai@example.com": true, "bank@example.com": true}, recipients)

	t.Run("second run is a no-op", func(t *testing.T) {
		again, err := job.Run(ctx, batchDay.Add(6*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, BatchAlreadyProcessed, again.Status)
		assert.Equal(t, 0, again.ProcessedCount)
		assert.Equal(t, "10.00", balanceOf(t, p.store, b.ID))
		assert.Equal(t, "100.00", balanceOf(t, p.store, p.sender.ID))
		assert.Equal(t, 0, p.broker.Len(p.topology.Outbound.Name))
	})

	t.Run("next day runs again", func(t *testing.T) {
		next, err := job.Run(ctx, batchDay.AddDate(0, 0, 1))
		require.NoError(t, err)
		assert.Equal(t, BatchCompleted, next.Status)
		assert.Equal(t, 1, next.ProcessedCount)
		assert.Equal(t, 2, next.SkippedCount)
		assert.Equal(t, "0.00", balanceOf(t, p.store, c.ID))
		assert.Equal(t, "150.00", balanceOf(t, p.store, p.sender.ID))
	})
}

func TestBatchJob_ConcurrentRunners(t *testing.T) {
	ctx := context.Background()
	st, db := testutil.NewSQLiteStore(t)
	collector := testutil.CreateAccount(t, st, "bank", models.RoleCollector, "0")
	var ordinary []*models.Account
	for _, name := range []string{"ana", "ben", "cai", "dee"} {
		ordinary = append(ordinary, testutil.CreateAccount(t, st, name, models.RoleOrdinary, "120.00"))
	}
	before := totalBalance(t, db)

	const runners = 6
	var wg sync.WaitGroup
	results := make([]*BatchResult, runners)
	errs := make([]error, runners)
	for i := 0; i < runners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = newBatchJob(st, nil).Run(ctx, batchDay)
		}(i)
	}
	wg.Wait()

	completed := 0
	for i := 0; i < runners; i++ {
		require.NoError(t, errs[i])
		switch results[i].Status {
		case BatchCompleted:
			completed++
		case BatchAlreadyProcessed, BatchConcurrentRunner:
		default:
			t.Fatalf("unexpected status %q", results[i].Status)
		}
	}
	assert.Equal(t, 1, completed)

	for _, acct := range ordinary {
		assert.Equal(t, "70.00", balanceOf(t, st, acct.ID))
	}
	assert.Equal(t, "200.00", balanceOf(t, st, collector.ID))
	assert.True(t, before.Equal(totalBalance(t, db)), "batch must conserve money")

	count, err := st.CountBatchEntries(ctx, BatchIDFor(batchDay))
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}

func TestBatchJob_NoCollector(t *testing.T) {
	st, _ := testutil.NewSQLiteStore(t)
	acct := testutil.CreateAccount(t, st, "ana", models.RoleOrdinary, "80.00")

	_, err := newBatchJob(st, nil).Run(context.Background(), batchDay)
	assert.ErrorIs(t, err, ErrCollectorNotFound)
	assert.Equal(t, "80.00", balanceOf(t, st, acct.ID))

	count, err := st.CountBatchEntries(context.Background(), BatchIDFor(batchDay))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestBatchJob_SkipsDeletedAccounts(t *testing.T) {
	ctx := context.Background()
	st, db := testutil.NewSQLiteStore(t)
	collector := testutil.CreateAccount(t, st, "bank", models.RoleCollector, "0")
	live := testutil.CreateAccount(t, st, "ana", models.RoleOrdinary, "80.00")
	gone := testutil.CreateAccount(t, st, "ben", models.RoleOrdinary, "80.00")
	_, err := db.Exec(`UPDATE accounts SET deleted_at = ? WHERE id = ?`, time.Now(), gone.ID)
	require.NoError(t, err)

	result, err := newBatchJob(st, nil).Run(ctx, batchDay)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ProcessedCount)
	assert.Equal(t, 0, result.SkippedCount)
	assert.Equal(t, "30.00", balanceOf(t, st, live.ID))
	assert.Equal(t, "80.00", balanceOf(t, st, gone.ID))
	assert.Equal(t, "50.00", balanceOf(t, st, collector.ID))
}

func TestBatchJob_NothingEligible(t *testing.T) {
	ctx := context.Background()
	st, _ := testutil.NewSQLiteStore(t)
	collector := testutil.CreateAccount(t, st, "bank", models.RoleCollector, "10.00")
	testutil.CreateAccount(t, st, "ana", models.RoleOrdinary, "49.99")

	notifier := new(MockNotifier)
	job := newBatchJob(st, notifier)

	result, err := job.Run(ctx, batchDay)
	require.NoError(t, err)
	assert.Equal(t, BatchCompleted, result.Status)
	assert.Equal(t, 0, result.ProcessedCount)
	assert.Equal(t, 1, result.SkippedCount)
	assert.True(t, result.TotalMoved.IsZero())
	assert.Equal(t, "10.00", balanceOf(t, st, collector.ID))

	entries, err := st.ListBatchEntries(ctx, result.BatchID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.EntryKindMarker, entries[0].Kind)

	again, err := job.Run(ctx, batchDay)
	require.NoError(t, err)
	assert.Equal(t, BatchAlreadyProcessed, again.Status)
	notifier.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestBatchJob_NotificationFailureKeepsLedger(t *testing.T) {
	ctx := context.Background()
	st, _ := testutil.NewSQLiteStore(t)
	collector := testutil.CreateAccount(t, st, "bank", models.RoleCollector, "0")
	acct := testutil.CreateAccount(t, st, "ana", models.RoleOrdinary, "75.00")

	notifier := new(MockNotifier)
	notifier.On("Enqueue", mock.Anything, mock.MatchedBy(func(req EnqueueRequest) bool {
		return req.Recipient == "ana@example.com"
	})).Return(nil, ErrQueueUnavailable).Once()
	notifier.On("Enqueue", mock.Anything, mock.MatchedBy(func(req EnqueueRequest) bool {
		return req.Recipient == "bank@example.com" && req.SenderAccountID == collector.ID
	})).Return(&models.Message{ID: 1}, nil).Once()

	result, err := newBatchJob(st, notifier).Run(ctx, batchDay)
	require.NoError(t, err)
	assert.Equal(t, BatchCompleted, result.Status)
	assert.Equal(t, 1, result.NotificationsFailed)
	assert.Equal(t, "25.00", balanceOf(t, st, acct.ID))
	assert.Equal(t, "50.00", balanceOf(t, st, collector.ID))
	notifier.AssertExpectations(t)
}

// failingLedger fails the collector credit so the whole sweep must roll back.
type failingLedger struct {
	*store.Store
	collectorID int64
}

func (f *failingLedger) PostEntry(ctx context.Context, tx *sql.Tx, account *models.Account, newBalance decimal.Decimal, entry *models.LedgerEntry) error {
	if account.ID == f.collectorID {
		return errors.New("disk full")
	}
	return f.Store.PostEntry(ctx, tx, account, newBalance, entry)
}

func TestBatchJob_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	st, db := testutil.NewSQLiteStore(t)
	collector := testutil.CreateAccount(t, st, "bank", models.RoleCollector, "0")
	acct := testutil.CreateAccount(t, st, "ana", models.RoleOrdinary, "90.00")
	before := totalBalance(t, db)

	_, err := newBatchJob(&failingLedger{Store: st, collectorID: collector.ID}, nil).Run(ctx, batchDay)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	assert.Equal(t, "90.00", balanceOf(t, st, acct.ID))
	assert.Equal(t, "0.00", balanceOf(t, st, collector.ID))
	assert.True(t, before.Equal(totalBalance(t, db)))
	count, err := st.CountBatchEntries(ctx, BatchIDFor(batchDay))
	require.NoError(t, err)
	assert.Zero(t, count)

	result, err := newBatchJob(st, nil).Run(ctx, batchDay)
	require.NoError(t, err)
	assert.Equal(t, BatchCompleted, result.Status)
	assert.Equal(t, "40.00", balanceOf(t, st, acct.ID))
}

// cancellingNotifier cancels the batch caller's context on its first call
// and refuses requests whose context is already done.
type cancellingNotifier struct {
	cancel context.CancelFunc
	calls  int
}

func (n *cancellingNotifier) Enqueue(ctx context.Context, req EnqueueRequest) (*models.Message, error) {
	n.calls++
	n.cancel()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &models.Message{ID: int64(n.calls)}, nil
}

func TestBatchJob_NotifiesAfterCallerGivesUp(t *testing.T) {
	st, _ := testutil.NewSQLiteStore(t)
	testutil.CreateAccount(t, st, "bank", models.RoleCollector, "0")
	testutil.CreateAccount(t, st, "ana", models.RoleOrdinary, "75.00")
	testutil.CreateAccount(t, st, "ben", models.RoleOrdinary, "75.00")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifier := &cancellingNotifier{cancel: cancel}

	result, err := newBatchJob(st, notifier).Run(ctx, batchDay)
	require.NoError(t, err)
	assert.Equal(t, BatchCompleted, result.Status)
	assert.Equal(t, 3, notifier.calls)
	assert.Equal(t, 0, result.NotificationsFailed)
}
