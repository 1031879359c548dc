package job

import "errors"

var (
	ErrNotIdle       = errors.New("a conversion is already active: reset first")
	ErrNotCompleted  = errors.New("results are only available once the job completed")
	ErrSchedulerUsed = errors.New("scheduler already started or cancelled")
	ErrAbandoned     = errors.New("conversion attempt was reset")
)

// Fixed user-facing messages for failures that carry no server text.
const (
	MsgSubmissionFailed = "Failed to start conversion"
	MsgPollFailed       = "Failed to fetch status"
	MsgJobFailed        = "Conversion failed"
)

// SubmissionError reports that the request to start a job failed.
type SubmissionError struct {
	Message string
	Err     error
}

func (e *SubmissionError) Error() string { return e.Message }
func (e *SubmissionError) Unwrap() error { return e.Err }

// PollTransportError reports that a status check failed before a status could be read.
type PollTransportError struct {
	Err error
}

func (e *PollTransportError) Error() string {
	if e.Err == nil {
		return MsgPollFailed
	}
	return MsgPollFailed + ": " + e.Err.Error()
}
func (e *PollTransportError) Unwrap() error { return e.Err }

// ServerReportedError carries the message of a job the server marked as failed.
type ServerReportedError struct {
	Message string
}

func (e *ServerReportedError) Error() string { return e.Message }

// NotFoundError reports a retrieval for a filename outside the result set.
type NotFoundError struct {
	Filename string
}

func (e *NotFoundError) Error() string { return "artifact not found: " + e.Filename }
