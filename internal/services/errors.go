package services

import "errors"

var (
	// ErrInvalidMessage is returned by Enqueue when required fields are missing.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrQueueUnavailable means the broker refused a publish. The message row
	// has already been marked FAILED.
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrTransientDelivery wraps a failed mail transport attempt.
	ErrTransientDelivery = errors.New("delivery failed")
	// ErrInsufficientBalance marks an account skipped by a batch run.
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrCollectorNotFound   = errors.New("collector account not found")
	// ErrConcurrentBatch signals that another runner committed the same batch
	// first. Run reports it as a status, not an error.
	ErrConcurrentBatch = errors.New("batch already processed by a concurrent runner")
	// ErrNotification wraps post-commit notification failures, which are only
	// logged.
	ErrNotification = errors.New("notification failed")
)
