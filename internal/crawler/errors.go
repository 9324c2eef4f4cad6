package crawler

import (
	"errors"
	"fmt"
)

// FetchKind classifies a failed fetch so the retry policy and walker can
// react without string matching.
type FetchKind string

// Fetch outcome classifications.
const (
	// KindAuthRejected marks a session rejection. The first occurrence per
	// fetch refreshes the session and retries without consuming the budget.
	KindAuthRejected FetchKind = "auth_rejected"
	// KindRateLimited marks throttling; retried with longer backoff.
	KindRateLimited FetchKind = "rate_limited"
	// KindTransient marks network errors and timeouts; retried.
	KindTransient FetchKind = "transient"
	// KindMalformed marks an unparseable payload; logged, never retried,
	// the walk continues with the next page.
	KindMalformed FetchKind = "malformed"
)

// FetchError wraps a classified fetch failure for one (task, page) attempt.
type FetchError struct {
	Kind    FetchKind
	Keyword string
	City    string
	Page    int
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s page %d (keyword=%q city=%s): %v",
		e.Kind, e.Page, e.Keyword, e.City, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError builds a FetchError for the given task position.
func NewFetchError(kind FetchKind, task CrawlTask, page int, err error) *FetchError {
	return &FetchError{
		Kind:    kind,
		Keyword: task.Keyword,
		City:    task.CityCode,
		Page:    page,
		Err:     err,
	}
}

// KindOf extracts the classification from err, or "" when err is not a
// FetchError.
func KindOf(err error) FetchKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
