package scheduling

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"

	xerrors "DRaaS-Chain/internal/errors"
)

const (
	// CodeTransientFetch marks a failed poll or detail fetch; the caller keeps
	// its previous snapshot.
	CodeTransientFetch xerrors.Code = "TRANSIENT_FETCH"
	// CodeSubmissionFailed marks a rejected code submission.
	CodeSubmissionFailed xerrors.Code = "SUBMISSION_FAILED"
	// CodeCancelFailed marks a failed cancellation request.
	CodeCancelFailed xerrors.Code = "CANCEL_FAILED"
)

func init() {
	xerrors.Register(CodeTransientFetch, xerrors.Attributes{
		Message:   "failed to fetch scheduler state",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
	})
	xerrors.Register(CodeSubmissionFailed, xerrors.Attributes{
		Message:  "Upload failed",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeCancelFailed, xerrors.Attributes{
		Message:  "Failed to cancel deployment",
		Severity: xerrors.SeverityWarning,
	})
}

// APIError is a non-2xx answer from the scheduler.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return fmt.Sprintf("scheduler api error (%d)", e.StatusCode)
	}
	return fmt.Sprintf("scheduler api error (%d): %s", e.StatusCode, e.Message)
}

// transportError wraps failures below HTTP: dial, reset, truncated body.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return "perform request: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// retryable reports whether an idempotent call may be attempted again.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, context.Canceled) || stdErrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if stdErrors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	var tErr *transportError
	return stdErrors.As(err, &tErr)
}

func transientFetch(op string, err error) error {
	return xerrors.Wrap(CodeTransientFetch, err, "", xerrors.WithMetadata("operation", op))
}

// submissionFailed keeps the scheduler's message as the user-facing reason
// when one was supplied.
func submissionFailed(err error) error {
	var apiErr *APIError
	if stdErrors.As(err, &apiErr) && apiErr.Message != "" {
		return xerrors.Wrap(CodeSubmissionFailed, err, apiErr.Message)
	}
	return xerrors.Wrap(CodeSubmissionFailed, err, "")
}

func cancelFailed(deploymentID string, err error) error {
	var apiErr *APIError
	message := ""
	if stdErrors.As(err, &apiErr) {
		message = apiErr.Message
	}
	return xerrors.Wrap(CodeCancelFailed, err, message, xerrors.WithMetadata("deployment_id", deploymentID))
}
