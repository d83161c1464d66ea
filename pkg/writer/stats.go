package writer

import "errors"

// Stats provides statistics about async writer operations.
type Stats struct {
	// QueueDepth is the current number of pending writes in the queue
	QueueDepth int `json:"queueDepth"`

	// DroppedWrites is the total number of writes dropped due to backpressure
	DroppedWrites int64 `json:"droppedWrites"`

	// TotalWrites is the total number of writes accepted into the queue
	TotalWrites int64 `json:"totalWrites"`

	// FailedWrites is the total number of writes the tier rejected
	FailedWrites int64 `json:"failedWrites"`

	// Superseded is the number of writes skipped or undone by Invalidate
	Superseded int64 `json:"superseded"`
}

// Errors returned by async writer operations.
var (
	// ErrQueueFull is returned when the write queue is full and MaxWaitTime exceeded
	ErrQueueFull = errors.New("writer: queue full, write dropped")

	// ErrWriterClosed is returned when attempting to write to a closed writer
	ErrWriterClosed = errors.New("writer: writer is closed")

	// ErrFlushTimeout is returned when Flush() times out waiting for queue to drain
	ErrFlushTimeout = errors.New("writer: flush timeout exceeded")
)
