package services

// DeliveryState is the outcome of one received delivery in the worker's
// state machine: exactly one of SENT, RETRY or DEAD.
type DeliveryState string

const (
	StateSent  DeliveryState = "SENT"
	StateRetry DeliveryState = "RETRY"
	StateDead  DeliveryState = "DEAD"
)

// NextDeliveryState decides the outcome of an attempt. attempts is the row's
// counter after the current attempt was counted.
func NextDeliveryState(attempts, maxRetries int, deliverErr error) DeliveryState {
	if deliverErr == nil {
		return StateSent
	}
	if attempts < maxRetries {
		return StateRetry
	}
	return StateDead
}

// Requeue reports whether the delivery goes back on the outbound queue.
func (s DeliveryState) Requeue() bool {
	return s == StateRetry
}
