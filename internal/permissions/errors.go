package permissions

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest indicates a malformed Request.
	ErrInvalidRequest = errors.New("invalid permission request")

	// ErrAccessReviewFailed indicates the access review itself could not be performed.
	ErrAccessReviewFailed = errors.New("access review failed")

	// ErrCheckerDisposed is returned by Check after Dispose.
	ErrCheckerDisposed = errors.New("permission checker disposed")
)

// AccessReviewError provides context about a failed SelfSubjectAccessReview call.
type AccessReviewError struct {
	Request Request
	Reason  string
	Err     error
}

// Error implements the error interface.
func (e *AccessReviewError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("access review for %s failed: %s: %v", e.Request, e.Reason, e.Err)
	}
	return fmt.Sprintf("access review for %s failed: %s", e.Request, e.Reason)
}

// Unwrap returns the underlying error.
func (e *AccessReviewError) Unwrap() error {
	return e.Err
}

// Is allows AccessReviewError to match ErrAccessReviewFailed.
func (e *AccessReviewError) Is(target error) bool {
	return target == ErrAccessReviewFailed
}
