package chat

import "errors"

var (
	// ErrNotReady is returned by Send and Retry before the session has
	// loaded its conversation, and after Close. The caller may retry
	// once the session is attached.
	ErrNotReady = errors.New("session not ready")

	// ErrSendFailed marks a persist failure on an optimistic entry.
	// It is never returned to callers; the entry transitions to the
	// failed status instead and the error is logged.
	ErrSendFailed = errors.New("send failed")

	// ErrAckFailed marks a delivery or read acknowledgement failure.
	// Acknowledgements are best-effort, so it is logged and swallowed;
	// the next qualifying observation retries.
	ErrAckFailed = errors.New("acknowledgement failed")

	// ErrLoadFailed is returned when a history page cannot be loaded.
	// Held state is untouched, so the same load can be retried.
	ErrLoadFailed = errors.New("load failed")

	// ErrNotFound is returned by Retry when no failed entry has the
	// given id.
	ErrNotFound = errors.New("message not found")
)
