package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type BatchRunner interface {
	Run(ctx context.Context, asOf time.Time) (*BatchResult, error)
}

// BatchScheduler fires the batch job on a cron schedule. Several processes
// may run it at once; the job itself keeps the ledger consistent.
type BatchScheduler struct {
	cron       *cron.Cron
	job        BatchRunner
	location   *time.Location
	runOnStart bool
	log        logrus.FieldLogger
	now        func() time.Time
	ctx        context.Context
}

func NewBatchScheduler(job BatchRunner, schedule string, location *time.Location, runOnStart bool, log logrus.FieldLogger) (*BatchScheduler, error) {
	if location == nil {
		location = time.UTC
	}
	log = log.WithField("component", "scheduler")
	cronLog := cron.PrintfLogger(log)

	s := &BatchScheduler{
		cron: cron.New(
			cron.WithLocation(location),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		job:        job,
		location:   location,
		runOnStart: runOnStart,
		log:        log,
		now:        time.Now,
		ctx:        context.Background(),
	}
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid batch schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Run starts the schedule and blocks until ctx is done and any running job
// has returned.
func (s *BatchScheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	if s.runOnStart {
		s.tick()
	}

	s.cron.Start()
	s.log.WithField("next_run", s.NextRun()).Info("batch scheduler started")

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("batch scheduler stopped")
	return nil
}

// NextRun returns the next scheduled fire time, or the zero time before Run.
func (s *BatchScheduler) NextRun() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *BatchScheduler) tick() {
	asOf := s.now().In(s.location)
	result, err := s.job.Run(s.ctx, asOf)
	if err != nil {
		s.log.WithError(err).WithField("as_of", asOf.Format(time.RFC3339)).Error("scheduled batch failed")
		return
	}
	s.log.WithFields(logrus.Fields{
		"batch_id":  result.BatchID,
		"status":    result.Status,
		"processed": result.ProcessedCount,
		"total":     result.TotalMoved.StringFixed(2),
	}).Info("scheduled batch finished")
}
